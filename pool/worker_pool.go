package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrWorkerPoolClosed = errors.New("worker pool is not active")
	ErrNilTask          = errors.New("task cannot be nil")
)

// Stats is a snapshot of the pool counters. Submitted counts accepted tasks
// only; submissions refused after Stop are counted in Rejected.
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64
	Busy      int32
	Queued    int
}

type WorkerPool struct {
	// guards queue and shutdown
	mu sync.Mutex

	// signalled when a task is queued or the pool shuts down
	cond *sync.Cond

	// pending tasks in submission order
	queue []*job

	// set once by Stop and never reset
	shutdown bool

	// ensure the pool can only be stopped once
	stop sync.Once

	workers []*Worker

	log *slog.Logger

	hooks hookList

	failureHandler func(TaskInfo, error)

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	busy      atomic.Int32
}

type Option func(*WorkerPool)

func WithLogger(log *slog.Logger) Option {
	return func(p *WorkerPool) {
		if log != nil {
			p.log = log
		}
	}
}

// WithHooks registers lifecycle hooks. Hooks run in registration order.
func WithHooks(hooks ...Hooks) Option {
	return func(p *WorkerPool) {
		p.hooks = append(p.hooks, hooks...)
	}
}

// WithFailureHandler sets the function that receives errors returned by, or
// panics raised from, tasks and lifecycle hooks. The default handler logs them.
// A panicking failure handler takes its worker down; Stop logs it.
func WithFailureHandler(fn func(TaskInfo, error)) Option {
	return func(p *WorkerPool) {
		p.failureHandler = fn
	}
}

// NewWorkerPool creates a pool and starts numWorkers workers right away.
// A pool with zero workers accepts tasks but never runs them.
func NewWorkerPool(numWorkers uint, opts ...Option) *WorkerPool {
	p := &WorkerPool{
		workers: make([]*Worker, numWorkers),
		log:     slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	p.cond = sync.NewCond(&p.mu)

	for _, opt := range opts {
		opt(p)
	}

	p.log.Info("starting worker pool", "workers", numWorkers)
	p.startWorkers()

	return p
}

func (p *WorkerPool) startWorkers() {
	for i := 0; i < len(p.workers); i++ {
		w := NewWorker(fmt.Sprintf("worker_%d", i+1), p, p.log)
		p.workers[i] = w
		go w.Start()
	}
}

// Submit adds work to the WorkerPool and returns immediately.
func (p *WorkerPool) Submit(t Task, opts ...SubmitOption) error {
	if t == nil {
		return ErrNilTask
	}

	return p.SubmitErr(func() error {
		t()
		return nil
	}, opts...)
}

// SubmitErr adds work whose error, if any, is passed to the failure handler.
func (p *WorkerPool) SubmitErr(fn func() error, opts ...SubmitOption) error {
	if fn == nil {
		return ErrNilTask
	}

	info := TaskInfo{
		Status:      StatusScheduled,
		SubmittedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&info)
	}
	if info.ID == "" {
		info.ID = ulid.Make().String()
	}

	// announced before the task becomes visible to workers, so observers
	// always see "scheduled" ahead of "active"
	if err := p.hooks.submitted(info); err != nil {
		p.onHookFailure(info, err)
	}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()

		p.rejected.Add(1)
		info.Status = StatusFailed
		info.Err = ErrWorkerPoolClosed
		info.FinishedAt = time.Now()
		if err := p.hooks.finished(info); err != nil {
			p.onHookFailure(info, err)
		}

		return ErrWorkerPoolClosed
	}

	p.queue = append(p.queue, &job{fn: fn, info: info})
	p.submitted.Add(1)
	p.cond.Signal()
	p.mu.Unlock()

	return nil
}

// next blocks until there is a task to run or the pool is shut down with an
// empty queue, in which case ok is false.
func (p *WorkerPool) next() (j *job, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.shutdown {
		p.cond.Wait()
	}

	// queued work is always drained before a worker terminates
	if len(p.queue) == 0 {
		return nil, false
	}

	j = p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]

	return j, true
}

// Stop marks the pool as shut down, wakes every worker and waits for all of
// them to exit. Tasks already queued still run. A worker that exits
// abnormally is logged and does not stop the remaining joins.
func (p *WorkerPool) Stop() error {
	p.stop.Do(func() {
		p.log.Info("stopping worker pool")

		p.mu.Lock()
		p.shutdown = true
		p.mu.Unlock()

		p.cond.Broadcast()

		for _, w := range p.workers {
			if err := w.Join(); err != nil {
				p.log.Error("failed to join worker", "worker", w.ID(), "error", err)
			}
		}

		p.log.Info("worker pool has been stopped")
	})

	return nil
}

func (p *WorkerPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.queue)
}

func (p *WorkerPool) Workers() int { return len(p.workers) }

func (p *WorkerPool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Busy:      p.busy.Load(),
		Queued:    p.Len(),
	}
}

func (p *WorkerPool) onFailure(info TaskInfo, err error) {
	if p.failureHandler != nil {
		p.failureHandler(info, err)
		return
	}

	var pe *PanicError
	if errors.As(err, &pe) {
		p.log.Error(fmt.Sprintf("worker %s recovered a panicking task", info.Worker),
			"task", info.ID, "label", info.Label, "panic", pe.Value, "stack", string(pe.Stack))
		return
	}

	p.log.Error(fmt.Sprintf("worker %s failed to execute task: %s", info.Worker, err.Error()),
		"task", info.ID, "label", info.Label)
}

// onHookFailure reports a panicking lifecycle hook. The task itself is not
// marked as failed.
func (p *WorkerPool) onHookFailure(info TaskInfo, err error) {
	if p.failureHandler != nil {
		p.failureHandler(info, err)
		return
	}

	p.log.Error("lifecycle hook panicked", "task", info.ID, "label", info.Label, "worker", info.Worker, "error", err)
}

var _ Pool = (*WorkerPool)(nil)
