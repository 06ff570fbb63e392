package pool

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Hooks observe the task lifecycle. They run on the submitting goroutine
// (OnSubmit) or on the worker goroutine (OnStart, OnFinish), outside the
// pool lock, and must not block.
//
// A panicking hook does not affect the task or the worker running it. The
// panic is reported to the failure handler and the remaining hooks still run.
type Hooks struct {
	OnSubmit func(TaskInfo)
	OnStart  func(TaskInfo)
	OnFinish func(TaskInfo)
}

type hookList []Hooks

func (l hookList) submitted(info TaskInfo) error {
	var errs []error
	for _, h := range l {
		errs = append(errs, callHook("OnSubmit", h.OnSubmit, info))
	}
	return errors.Join(errs...)
}

func (l hookList) started(info TaskInfo) error {
	var errs []error
	for _, h := range l {
		errs = append(errs, callHook("OnStart", h.OnStart, info))
	}
	return errors.Join(errs...)
}

func (l hookList) finished(info TaskInfo) error {
	var errs []error
	for _, h := range l {
		errs = append(errs, callHook("OnFinish", h.OnFinish, info))
	}
	return errors.Join(errs...)
}

func callHook(name string, fn func(TaskInfo), info TaskInfo) (err error) {
	if fn == nil {
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s hook: %w", name, &PanicError{Value: rec, Stack: debug.Stack()})
		}
	}()

	fn(info)
	return nil
}
