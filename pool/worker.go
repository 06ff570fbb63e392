package pool

import (
	"fmt"
	"log/slog"
	"time"
)

type Worker struct {
	// the worker id
	id string

	// the pool the worker takes tasks from
	pool *WorkerPool

	// receives the worker's exit error exactly once, then is closed
	done chan error

	// id of the task being executed, only touched by the worker goroutine
	current string

	log *slog.Logger
}

func NewWorker(id string, p *WorkerPool, log *slog.Logger) *Worker {
	return &Worker{
		id:   id,
		pool: p,
		log:  log,
		done: make(chan error, 1),
	}
}

func (w *Worker) ID() string { return w.id }

// Start runs the worker loop until the pool is shut down and its queue is
// empty. It is meant to be run on its own goroutine.
func (w *Worker) Start() {
	w.log.Info(fmt.Sprintf("starting worker %s", w.id))

	var exitErr error
	defer func() {
		// tasks and hooks are already contained; this only catches a
		// panicking failure handler
		if rec := recover(); rec != nil {
			exitErr = fmt.Errorf("worker %s exited abnormally while running task %s: %v", w.id, w.current, rec)
		}

		w.log.Info(fmt.Sprintf("worker %s has been stopped", w.id))
		w.done <- exitErr
		close(w.done)
	}()

	for {
		j, ok := w.pool.next()
		if !ok {
			return
		}

		w.current = j.info.ID
		w.execute(j)
		w.current = ""
	}
}

// Join blocks until the worker loop has returned and reports how it ended.
func (w *Worker) Join() error {
	return <-w.done
}

func (w *Worker) execute(j *job) {
	p := w.pool

	info := j.info
	info.Worker = w.id
	info.Status = StatusActive
	info.StartedAt = time.Now()

	p.busy.Add(1)
	defer p.busy.Add(-1)

	if err := p.hooks.started(info); err != nil {
		p.onHookFailure(info, err)
	}

	err := j.run()

	info.FinishedAt = time.Now()
	if err != nil {
		info.Status = StatusFailed
		info.Err = err
		p.failed.Add(1)
		p.onFailure(info, err)
	} else {
		info.Status = StatusCompleted
		p.completed.Add(1)
	}

	if err := p.hooks.finished(info); err != nil {
		p.onHookFailure(info, err)
	}
}
