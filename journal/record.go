package journal

import (
	"context"
	"errors"
	"time"

	"github.com/jirevwe/litepool/journal/packer"
	"github.com/jirevwe/litepool/pool"
)

const (
	// Rfc3339Milli is like time.RFC3339Nano, but with millisecond precision
	Rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"
)

var (
	ErrNotFound          = errors.New("task not found in journal")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

type Store interface {
	// Record inserts a newly scheduled task
	Record(context.Context, TaskRecord) error

	// UpdateStatus moves a task forward to rec.Status and stores its worker, error and meta
	UpdateStatus(context.Context, TaskRecord) (TaskRecord, error)

	Get(context.Context, string) (TaskRecord, error)

	ListByStatus(context.Context, pool.TaskStatus) ([]TaskRecord, error)

	// Archive moves finished tasks last updated before the given time to the archive
	Archive(context.Context, time.Time) (int, error)

	Close() error
}

type TaskRecord struct {
	Id        string `json:"id" db:"id"`
	Label     string `json:"label" db:"label"`
	Status    string `json:"status" db:"status"`
	Worker    string `json:"worker" db:"worker"`
	Error     string `json:"error" db:"error"`
	Meta      []byte `json:"meta" db:"meta"`
	CreatedAt string `json:"created_at" db:"created_at"`
	UpdatedAt string `json:"updated_at" db:"updated_at"`
}

type ArchivedTaskRecord struct {
	TaskRecord
	ArchivedAt string `json:"archived_at" db:"archived_at"`
}

// TaskMeta is stored msgpack-encoded in the meta column.
type TaskMeta struct {
	SubmittedAt time.Time `msgpack:"submitted_at"`
	StartedAt   time.Time `msgpack:"started_at,omitempty"`
	FinishedAt  time.Time `msgpack:"finished_at,omitempty"`
	DurationMs  int64     `msgpack:"duration_ms"`
}

func (r *TaskRecord) DecodeMeta() (TaskMeta, error) {
	var m TaskMeta
	if len(r.Meta) == 0 {
		return m, nil
	}
	err := packer.DecodeMessage(r.Meta, &m)
	return m, err
}

// NewTaskRecord converts a lifecycle event into the row written to the store.
func NewTaskRecord(info pool.TaskInfo) (TaskRecord, error) {
	meta, err := packer.EncodeMessage(TaskMeta{
		SubmittedAt: info.SubmittedAt,
		StartedAt:   info.StartedAt,
		FinishedAt:  info.FinishedAt,
		DurationMs:  info.Duration().Milliseconds(),
	})
	if err != nil {
		return TaskRecord{}, err
	}

	rec := TaskRecord{
		Id:     info.ID,
		Label:  info.Label,
		Status: string(info.Status),
		Worker: info.Worker,
		Meta:   meta,
	}
	if info.Err != nil {
		rec.Error = info.Err.Error()
	}

	return rec, nil
}

type TaskStatusLevel int

const (
	unknownLevel TaskStatusLevel = iota
	ScheduledLevel
	ActiveLevel
	// completed and failed are both terminal
	TerminalLevel
)

func TaskStatusLevelFromString(status string) TaskStatusLevel {
	switch pool.TaskStatus(status) {
	case pool.StatusScheduled:
		return ScheduledLevel
	case pool.StatusActive:
		return ActiveLevel
	case pool.StatusCompleted, pool.StatusFailed:
		return TerminalLevel
	default:
		return unknownLevel
	}
}

// CanTransition reports whether a task may move from one status to another.
// Statuses only move forward, and a terminal status is final.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}

	fromLevel, toLevel := TaskStatusLevelFromString(from), TaskStatusLevelFromString(to)
	if toLevel == unknownLevel {
		return false
	}

	return fromLevel < toLevel
}
