package pool

type Pool interface {
	// Submit appends a task to the pool's queue and wakes one idle worker.
	// It never blocks on queue length or on busy workers, and returns
	// ErrWorkerPoolClosed once Stop has been called.
	Submit(Task, ...SubmitOption) error

	// SubmitErr is like Submit, but a non-nil error returned by fn is handed
	// to the pool's failure handler.
	SubmitErr(func() error, ...SubmitOption) error

	// Stop drains the queue, waits for every worker to exit and tears down
	// the pool. It is safe to call more than once.
	Stop() error

	// Len returns the number of queued tasks that no worker has picked up yet
	Len() int

	// Workers returns the number of workers the pool was created with
	Workers() int

	// Stats returns a snapshot of the pool counters
	Stats() Stats
}
