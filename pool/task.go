package pool

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Task is a unit of work. It captures everything it needs and is run by
// exactly one worker, exactly once.
type Task func()

type TaskStatus string

const (
	StatusScheduled TaskStatus = "scheduled"
	StatusActive    TaskStatus = "active"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// TaskInfo describes a task at one point of its lifecycle. A copy is handed
// to the pool hooks on submit, start and finish.
type TaskInfo struct {
	ID     string
	Label  string
	Status TaskStatus

	// Worker is empty until a worker picks the task up
	Worker string

	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time

	Err error
}

// Duration is the time the task spent running.
func (i TaskInfo) Duration() time.Duration {
	if i.StartedAt.IsZero() || i.FinishedAt.IsZero() {
		return 0
	}
	return i.FinishedAt.Sub(i.StartedAt)
}

// SubmitOption sets per-task metadata at submit time.
type SubmitOption func(*TaskInfo)

// WithTaskID overrides the generated task id.
func WithTaskID(id string) SubmitOption {
	return func(i *TaskInfo) { i.ID = id }
}

func WithTaskLabel(label string) SubmitOption {
	return func(i *TaskInfo) { i.Label = label }
}

// PanicError is reported to the failure handler when a task panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

type job struct {
	fn   func() error
	info TaskInfo
}

// run executes the task inside its own error boundary so that a panic
// never unwinds into the worker loop.
func (j *job) run() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()

	return j.fn()
}
