// Package handoff moves values produced on worker goroutines to a single
// consumer that polls for them, typically once per iteration of its own loop.
package handoff

import "sync"

// Queue is a FIFO guarded by its own mutex. Any goroutine may Push. The
// consumer calls TryPopOne and never blocks; when nothing is ready it goes
// on with its own work.
//
// A pushed value belongs to the queue until it is popped and then to the
// consumer alone. Producers should push pointers to heavy payloads and drop
// their own reference afterwards.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends v. It never waits for the consumer.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// TryPopOne removes and returns the oldest value. ok is false when the
// queue is empty; that is the normal "nothing yet" answer, not an error.
func (q *Queue[T]) TryPopOne() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return v, false
	}

	v = q.items[0]

	var zero T
	q.items[0] = zero
	q.items = q.items[1:]

	return v, true
}

// Drain removes and returns everything currently queued, oldest first.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil

	return out
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
