// Package litepool loads assets on a fixed pool of background workers and
// hands the results back to a single consumer, such as a render loop, that
// polls for at most one result per iteration.
package litepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jirevwe/litepool/handoff"
	"github.com/jirevwe/litepool/journal"
	"github.com/jirevwe/litepool/metrics"
	"github.com/jirevwe/litepool/pool"
	"github.com/jirevwe/litepool/resource"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
)

type Loader struct {
	ctx    context.Context
	cancel context.CancelFunc

	workerPool pool.Pool
	importers  *resource.Pool[Importer]
	results    *handoff.Queue[*Result]

	journal *journal.Journal
	store   journal.Store
	metrics *metrics.Metrics

	logger  *slog.Logger
	retries int
	backoff time.Duration

	stop sync.Once
}

type Config struct {
	// Workers is the number of background workers
	Workers uint

	// Importers is how many importer instances are shared by the workers
	Importers int

	// NewImporter builds one importer instance, defaults to a Mux that
	// sends every format to a FileImporter
	NewImporter func() Importer

	// Retries is how many times a failed import is tried again
	Retries      int
	RetryBackoff time.Duration

	Logger *slog.Logger

	// Store enables the task journal when set. The loader closes it.
	Store journal.Store

	// Registerer enables Prometheus metrics when set
	Registerer prometheus.Registerer
}

func DefaultImporter() Importer {
	m := NewMux()
	m.Handle(Wildcard, NewFileImporter())
	return m
}

func NewLoader(cfg *Config) (*Loader, error) {
	if cfg.Importers < 1 {
		return nil, fmt.Errorf("at least one importer is required, got %d", cfg.Importers)
	}

	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be non-negative, got %d", cfg.Retries)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	if cfg.NewImporter == nil {
		cfg.NewImporter = DefaultImporter
	}

	importers := make([]Importer, cfg.Importers)
	for i := range importers {
		importers[i] = cfg.NewImporter()
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		ctx:       ctx,
		cancel:    cancel,
		importers: resource.New(importers...),
		results:   handoff.New[*Result](),
		store:     cfg.Store,
		logger:    cfg.Logger,
		retries:   cfg.Retries,
		backoff:   cfg.RetryBackoff,
	}

	var hooks []pool.Hooks
	if cfg.Store != nil {
		l.journal = journal.New(cfg.Store, cfg.Logger, 0)
		hooks = append(hooks, l.journal.Hooks())
	}

	if cfg.Registerer != nil {
		l.metrics = metrics.New(cfg.Registerer)
		hooks = append(hooks, l.metrics.Hooks())
	}

	workerPool := pool.NewWorkerPool(cfg.Workers, pool.WithLogger(cfg.Logger), pool.WithHooks(hooks...))
	l.workerPool = workerPool

	// the gauges read the pool, so they are only registered once it exists
	if l.metrics != nil {
		l.metrics.Watch(metrics.Sources{
			QueueDepth:   workerPool.Len,
			HandoffDepth: l.results.Len,
		})
	}

	if l.journal != nil {
		l.journal.Start()
	}

	return l, nil
}

// Load schedules an import of path and returns the task id. The outcome is
// delivered through Poll, whether the import succeeds or not.
func (l *Loader) Load(path string) (string, error) {
	id := ulid.Make().String()

	err := l.workerPool.SubmitErr(func() error {
		return l.load(id, path)
	}, pool.WithTaskID(id), pool.WithTaskLabel(formatOf(path)))
	if err != nil {
		return "", err
	}

	return id, nil
}

func (l *Loader) load(id, path string) (err error) {
	res := &Result{ID: id, Path: path}

	defer func() {
		if rec := recover(); rec != nil {
			err = &pool.PanicError{Value: rec, Stack: debug.Stack()}
		}

		res.Err = err
		if err != nil {
			res.Model = nil
		}
		l.results.Push(res)
	}()

	imp, err := l.importers.Acquire(l.ctx)
	if err != nil {
		return fmt.Errorf("cannot acquire importer: %w", err)
	}

	// give the importer back before the result is published
	defer func() {
		if releaseErr := l.importers.Release(imp); releaseErr != nil {
			l.logger.Error(releaseErr.Error(), "func", "importers.Release", "task", id)
		}
	}()

	req := &Request{ID: id, Path: path}
	err = NewRetry(l.retries+1, l.backoff, func() error {
		req.Attempt++
		res.Attempts = req.Attempt

		model, importErr := imp.Import(l.ctx, req)
		if importErr != nil {
			l.logger.Debug("import attempt failed", "task", id, "path", path, "attempt", req.Attempt, "error", importErr)
			return importErr
		}
		if model == nil {
			return errors.New("importer returned no model")
		}

		res.Model = model
		return nil
	}).Do()
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}

	return nil
}

// Poll returns the oldest finished result, if any. It never blocks and is
// meant to be called once per iteration of the consumer's loop.
func (l *Loader) Poll() (*Result, bool) {
	return l.results.TryPopOne()
}

// Pending returns the number of results waiting to be polled.
func (l *Loader) Pending() int { return l.results.Len() }

func (l *Loader) Stats() pool.Stats { return l.workerPool.Stats() }

// Close waits for every scheduled load to finish, then flushes the journal
// and closes its store. Results already produced can still be polled.
func (l *Loader) Close() (err error) {
	l.stop.Do(func() {
		l.logger.Info("stopping loader")

		err = l.workerPool.Stop()

		// nothing can be waiting on an importer any more
		l.cancel()

		if l.journal != nil {
			l.journal.Stop()
		}

		if l.store != nil {
			if closeErr := l.store.Close(); closeErr != nil {
				err = errors.Join(err, closeErr)
			}
		}
	})

	return err
}
