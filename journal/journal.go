// Package journal records the lifecycle of every pool task in a Store.
//
// Pool hooks only push events onto a hand-off queue, so submitting work
// never waits on the database. A single pump goroutine polls the queue and
// writes the events in the order they were produced.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jirevwe/litepool/handoff"
	"github.com/jirevwe/litepool/pool"
)

type Journal struct {
	store  Store
	events *handoff.Queue[pool.TaskInfo]
	log    *slog.Logger

	// how long the pump sleeps when there is nothing to write
	interval time.Duration

	start sync.Once
	stop  sync.Once
	quit  chan struct{}
	done  chan struct{}
}

func New(store Store, log *slog.Logger, interval time.Duration) *Journal {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	return &Journal{
		store:    store,
		events:   handoff.New[pool.TaskInfo](),
		log:      log,
		interval: interval,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Hooks returns the pool hooks that feed this journal.
func (j *Journal) Hooks() pool.Hooks {
	return pool.Hooks{
		OnSubmit: j.events.Push,
		OnStart:  j.events.Push,
		OnFinish: j.events.Push,
	}
}

// Pending returns the number of events not yet written.
func (j *Journal) Pending() int { return j.events.Len() }

func (j *Journal) Start() {
	j.start.Do(func() {
		go j.pump()
	})
}

// Stop writes whatever is still pending and waits for the pump to exit.
func (j *Journal) Stop() {
	j.stop.Do(func() {
		close(j.quit)
		j.start.Do(func() { close(j.done) })
		<-j.done

		// events pushed after the pump's last pass
		j.Flush(context.Background())
	})
}

func (j *Journal) pump() {
	defer close(j.done)
	ctx := context.Background()

	for {
		select {
		case <-j.quit:
			j.Flush(ctx)
			return
		default:
		}

		info, ok := j.events.TryPopOne()
		if !ok {
			// nothing to write, sleep then try again
			time.Sleep(j.interval)
			continue
		}

		j.apply(ctx, info)
	}
}

// Flush writes every pending event synchronously.
func (j *Journal) Flush(ctx context.Context) {
	for _, info := range j.events.Drain() {
		j.apply(ctx, info)
	}
}

func (j *Journal) apply(ctx context.Context, info pool.TaskInfo) {
	rec, err := NewTaskRecord(info)
	if err != nil {
		j.log.Error(err.Error(), "func", "journal.NewTaskRecord", "task", info.ID)
		return
	}

	if info.Status == pool.StatusScheduled {
		if err = j.store.Record(ctx, rec); err != nil {
			j.log.Error(err.Error(), "func", "store.Record", "task", info.ID)
		}
		return
	}

	if _, err = j.store.UpdateStatus(ctx, rec); err != nil {
		j.log.Error(fmt.Sprintf("failed to move task to %s: %s", info.Status, err), "func", "store.UpdateStatus", "task", info.ID)
	}
}
