package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jirevwe/litepool/journal"
	"github.com/jirevwe/litepool/pool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

var slogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestStore(t *testing.T) *Sqlite {
	t.Helper()

	s, err := NewSqlite(filepath.Join(t.TempDir(), "journal.db"), slogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func newRecord(t *testing.T, info pool.TaskInfo) journal.TaskRecord {
	t.Helper()

	rec, err := journal.NewTaskRecord(info)
	require.NoError(t, err)
	return rec
}

func TestSqlite_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	submitted := time.Now()
	id := ulid.Make().String()
	require.NoError(t, s.Record(ctx, newRecord(t, pool.TaskInfo{
		ID:          id,
		Label:       "lion.gltf",
		Status:      pool.StatusScheduled,
		SubmittedAt: submitted,
	})))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "lion.gltf", got.Label)
	require.Equal(t, string(pool.StatusScheduled), got.Status)
	require.NotEmpty(t, got.CreatedAt)

	meta, err := got.DecodeMeta()
	require.NoError(t, err)
	require.True(t, submitted.Equal(meta.SubmittedAt), "%s != %s", submitted, meta.SubmittedAt)
}

func TestSqlite_GetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, journal.ErrNotFound)

	_, err = s.UpdateStatus(context.Background(), journal.TaskRecord{Id: "missing", Status: string(pool.StatusActive)})
	require.ErrorIs(t, err, journal.ErrNotFound)
}

func TestSqlite_UpdateStatusMovesForwardOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	info := pool.TaskInfo{ID: ulid.Make().String(), Status: pool.StatusScheduled, SubmittedAt: time.Now()}
	require.NoError(t, s.Record(ctx, newRecord(t, info)))

	info.Status = pool.StatusActive
	info.Worker = "worker_2"
	info.StartedAt = time.Now()
	got, err := s.UpdateStatus(ctx, newRecord(t, info))
	require.NoError(t, err)
	require.Equal(t, string(pool.StatusActive), got.Status)
	require.Equal(t, "worker_2", got.Worker)

	info.Status = pool.StatusFailed
	info.Err = errors.New("importer crashed")
	info.FinishedAt = info.StartedAt.Add(25 * time.Millisecond)
	got, err = s.UpdateStatus(ctx, newRecord(t, info))
	require.NoError(t, err)
	require.Equal(t, string(pool.StatusFailed), got.Status)
	require.Equal(t, "importer crashed", got.Error)

	meta, err := got.DecodeMeta()
	require.NoError(t, err)
	require.Equal(t, int64(25), meta.DurationMs)

	// terminal states are final
	info.Status = pool.StatusCompleted
	_, err = s.UpdateStatus(ctx, newRecord(t, info))
	require.ErrorIs(t, err, journal.ErrInvalidTransition)

	info.Status = pool.StatusActive
	_, err = s.UpdateStatus(ctx, newRecord(t, info))
	require.ErrorIs(t, err, journal.ErrInvalidTransition)
}

func TestSqlite_ListByStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id := ulid.Make().String()
		ids = append(ids, id)
		require.NoError(t, s.Record(ctx, newRecord(t, pool.TaskInfo{ID: id, Status: pool.StatusScheduled})))
	}

	_, err := s.UpdateStatus(ctx, newRecord(t, pool.TaskInfo{ID: ids[1], Status: pool.StatusActive, Worker: "worker_1"}))
	require.NoError(t, err)

	scheduled, err := s.ListByStatus(ctx, pool.StatusScheduled)
	require.NoError(t, err)
	require.Len(t, scheduled, 2)
	require.Equal(t, ids[0], scheduled[0].Id)
	require.Equal(t, ids[2], scheduled[1].Id)

	active, err := s.ListByStatus(ctx, pool.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, ids[1], active[0].Id)
}

func TestSqlite_Archive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	done := ulid.Make().String()
	running := ulid.Make().String()
	for _, id := range []string{done, running} {
		require.NoError(t, s.Record(ctx, newRecord(t, pool.TaskInfo{ID: id, Status: pool.StatusScheduled})))
		_, err := s.UpdateStatus(ctx, newRecord(t, pool.TaskInfo{ID: id, Status: pool.StatusActive, Worker: "worker_1"}))
		require.NoError(t, err)
	}
	_, err := s.UpdateStatus(ctx, newRecord(t, pool.TaskInfo{ID: done, Status: pool.StatusCompleted, Worker: "worker_1"}))
	require.NoError(t, err)

	// nothing finished before an hour ago
	n, err := s.Archive(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.Archive(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.Get(ctx, done)
	require.ErrorIs(t, err, journal.ErrNotFound)

	_, err = s.Get(ctx, running)
	require.NoError(t, err)

	archived, err := s.ListArchived(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Equal(t, done, archived[0].Id)
	require.NotEmpty(t, archived[0].ArchivedAt)
}

func TestSqlite_RecordConcurrently(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wg := &sync.WaitGroup{}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.Record(ctx, newRecord(t, pool.TaskInfo{ID: ulid.Make().String(), Status: pool.StatusScheduled})))
		}()
	}
	wg.Wait()

	scheduled, err := s.ListByStatus(ctx, pool.StatusScheduled)
	require.NoError(t, err)
	require.Len(t, scheduled, 10)
}
