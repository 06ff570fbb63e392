// Package resource keeps a fixed set of reusable objects that must only be
// used by one goroutine at a time, such as model importers.
package resource

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrExhausted = errors.New("resource pool is exhausted")
	ErrOverflow  = errors.New("resource pool has no item on loan")
)

// Pool hands out items exclusively. The most recently released item is the
// next one handed out.
type Pool[T any] struct {
	mu    sync.Mutex
	items []T
	size  int

	// items handed out and not yet released
	out int

	// one token per free item
	free chan struct{}
}

func New[T any](items ...T) *Pool[T] {
	p := &Pool[T]{
		items: append([]T(nil), items...),
		size:  len(items),
		free:  make(chan struct{}, len(items)),
	}

	for range items {
		p.free <- struct{}{}
	}

	return p
}

// Acquire waits until an item is free or ctx is done.
func (p *Pool[T]) Acquire(ctx context.Context) (item T, err error) {
	select {
	case <-p.free:
		return p.pop(), nil
	case <-ctx.Done():
		return item, ctx.Err()
	}
}

// TryAcquire returns ErrExhausted instead of waiting.
func (p *Pool[T]) TryAcquire() (item T, err error) {
	select {
	case <-p.free:
		return p.pop(), nil
	default:
		return item, ErrExhausted
	}
}

// Release gives an item back. It returns ErrOverflow when no item is on
// loan. Items are not compared, so the caller must only release what it
// acquired: a foreign value released while another item is out replaces it.
func (p *Pool[T]) Release(item T) error {
	p.mu.Lock()
	if p.out == 0 {
		p.mu.Unlock()
		return ErrOverflow
	}
	p.out--
	p.items = append(p.items, item)
	p.mu.Unlock()

	p.free <- struct{}{}

	return nil
}

func (p *Pool[T]) Available() int { return len(p.free) }

func (p *Pool[T]) Cap() int { return p.size }

func (p *Pool[T]) pop() T {
	p.mu.Lock()
	defer p.mu.Unlock()

	last := len(p.items) - 1
	item := p.items[last]

	var zero T
	p.items[last] = zero
	p.items = p.items[:last]
	p.out++

	return item
}
