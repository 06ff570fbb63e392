package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type importer struct{ id int }

func TestPool_AcquireRelease(t *testing.T) {
	a, b := &importer{1}, &importer{2}
	p := New(a, b)
	require.Equal(t, 2, p.Cap())
	require.Equal(t, 2, p.Available())

	got, err := p.TryAcquire()
	require.NoError(t, err)
	require.Same(t, b, got)

	got2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Same(t, a, got2)

	_, err = p.TryAcquire()
	require.ErrorIs(t, err, ErrExhausted)
	require.Zero(t, p.Available())

	require.NoError(t, p.Release(got))

	// last released, first handed out
	again, err := p.TryAcquire()
	require.NoError(t, err)
	require.Same(t, b, again)
}

func TestPool_ReleaseOverflow(t *testing.T) {
	p := New(&importer{1})
	require.ErrorIs(t, p.Release(&importer{2}), ErrOverflow)
	require.Equal(t, 1, p.Available())
}

func TestPool_DoubleReleaseIsRejected(t *testing.T) {
	a, b := &importer{1}, &importer{2}
	p := New(a, b)

	got, err := p.TryAcquire()
	require.NoError(t, err)
	require.NoError(t, p.Release(got))

	require.ErrorIs(t, p.Release(got), ErrOverflow)
	require.ErrorIs(t, p.Release(&importer{3}), ErrOverflow)
	require.Equal(t, 2, p.Available())

	// the pool still hands out exactly its own items
	seen := map[*importer]bool{}
	for i := 0; i < 2; i++ {
		it, err := p.TryAcquire()
		require.NoError(t, err)
		seen[it] = true
	}
	require.Equal(t, map[*importer]bool{a: true, b: true}, seen)

	_, err = p.TryAcquire()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestPool_AcquireBlocksUntilRelease(t *testing.T) {
	p := New(&importer{1})

	held, err := p.TryAcquire()
	require.NoError(t, err)

	got := make(chan *importer)
	go func() {
		it, err := p.Acquire(context.Background())
		require.NoError(t, err)
		got <- it
	}()

	select {
	case <-got:
		t.Fatal("Acquire returned while the pool was empty")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Release(held))

	select {
	case it := <-got:
		require.Same(t, held, it)
	case <-time.After(10 * time.Second):
		t.Fatal("Acquire did not wake up after Release")
	}
}

func TestPool_AcquireHonoursContext(t *testing.T) {
	p := New[*importer]()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_ExclusiveUse(t *testing.T) {
	items := []*importer{{1}, {2}, {3}}
	p := New(items...)

	inUse := make([]atomic.Int32, len(items)+1)
	wg := &sync.WaitGroup{}
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				it, err := p.Acquire(context.Background())
				require.NoError(t, err)

				require.Equal(t, int32(1), inUse[it.id].Add(1))
				inUse[it.id].Add(-1)

				require.NoError(t, p.Release(it))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, p.Available())
}
