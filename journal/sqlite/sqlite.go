package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jirevwe/litepool/journal"
	"github.com/jirevwe/litepool/pool"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var (
	createTasks = `create table if not exists tasks (
			id TEXT not null primary key,
			label TEXT not null default '',
			status TEXT not null default 'scheduled',
			worker TEXT not null default '',
			error TEXT not null default '',
			meta BLOB,
			created_at TEXT not null default (strftime('%Y-%m-%dT%H:%M:%fZ')),
			updated_at TEXT not null default (strftime('%Y-%m-%dT%H:%M:%fZ'))
		) strict;`

	createArchivedTasks = `create table if not exists archived_tasks (
			id TEXT not null primary key,
			label TEXT not null,
			status TEXT not null,
			worker TEXT not null,
			error TEXT not null,
			meta BLOB,
			created_at TEXT not null,
			updated_at TEXT not null,
			archived_at TEXT not null default (strftime('%Y-%m-%dT%H:%M:%fZ'))
		) strict;`

	createTasksStatusIndex = `create index if not exists idx_tasks_status on tasks (status);`
)

type Sqlite struct {
	logger *slog.Logger
	db     *sqlx.DB
}

func NewSqlite(dbPath string, logger *slog.Logger) (*Sqlite, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?mode=rwc&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, err
	}

	// a single writer keeps sqlite from returning "database is locked"
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA journal_size_limit = 67108864;")
	if err != nil {
		return nil, err
	}

	_, err = db.Exec("PRAGMA cache_size = 2000;")
	if err != nil {
		return nil, err
	}

	s := &Sqlite{db: db, logger: logger}

	ctx := context.Background()
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range []string{createTasks, createArchivedTasks, createTasksStatusIndex} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Record inserts a newly scheduled task
func (s *Sqlite) Record(ctx context.Context, rec journal.TaskRecord) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		insertQuery := `insert into tasks (id, label, status, worker, error, meta) values ($1, $2, $3, $4, $5, $6)`
		_, innerErr := tx.ExecContext(ctx, insertQuery, rec.Id, rec.Label, rec.Status, rec.Worker, rec.Error, rec.Meta)
		return innerErr
	})
}

// UpdateStatus moves the task forward, it refuses to move a task backwards
func (s *Sqlite) UpdateStatus(ctx context.Context, rec journal.TaskRecord) (task journal.TaskRecord, err error) {
	getItemById := `select * from tasks where id = $1`
	updateItemStatus := `update tasks set status = $1, worker = $2, error = $3, meta = $4,
		updated_at = strftime('%Y-%m-%dT%H:%M:%fZ') where id = $5 returning *;`

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		var current journal.TaskRecord
		if rowScanErr := tx.QueryRowxContext(ctx, getItemById, rec.Id).StructScan(&current); rowScanErr != nil {
			if errors.Is(rowScanErr, sql.ErrNoRows) {
				return journal.ErrNotFound
			}
			return rowScanErr
		}

		if !journal.CanTransition(current.Status, rec.Status) {
			return fmt.Errorf("%w: task is already in the %s state", journal.ErrInvalidTransition, current.Status)
		}

		worker := rec.Worker
		if worker == "" {
			worker = current.Worker
		}

		row := tx.QueryRowxContext(ctx, updateItemStatus, rec.Status, worker, rec.Error, rec.Meta, rec.Id)
		if row.Err() != nil {
			return row.Err()
		}

		return row.StructScan(&task)
	})

	return task, err
}

func (s *Sqlite) Get(ctx context.Context, id string) (task journal.TaskRecord, err error) {
	err = s.db.QueryRowxContext(ctx, `select * from tasks where id = $1`, id).StructScan(&task)
	if errors.Is(err, sql.ErrNoRows) {
		return task, journal.ErrNotFound
	}

	return task, err
}

func (s *Sqlite) ListByStatus(ctx context.Context, status pool.TaskStatus) (tasks []journal.TaskRecord, err error) {
	err = s.db.SelectContext(ctx, &tasks, `select * from tasks where status = $1 order by id;`, string(status))
	return tasks, err
}

// ListArchived returns archived tasks, newest first
func (s *Sqlite) ListArchived(ctx context.Context) (tasks []journal.ArchivedTaskRecord, err error) {
	err = s.db.SelectContext(ctx, &tasks, `select * from archived_tasks order by id desc;`)
	return tasks, err
}

// Archive moves finished tasks that were last updated before olderThan into archived_tasks
func (s *Sqlite) Archive(ctx context.Context, olderThan time.Time) (n int, err error) {
	cutoff := olderThan.UTC().Format(journal.Rfc3339Milli)

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		rows, rowsErr := tx.QueryxContext(ctx, `delete from tasks where status in ($1, $2) and updated_at < $3 returning *`,
			string(pool.StatusCompleted), string(pool.StatusFailed), cutoff)
		if rowsErr != nil {
			return rowsErr
		}

		var tasks []journal.TaskRecord
		for rows.Next() {
			var rec journal.TaskRecord
			if err = rows.StructScan(&rec); err != nil {
				_ = rows.Close()
				return err
			}
			tasks = append(tasks, rec)
		}
		if err = rows.Close(); err != nil {
			return err
		}

		//nothing to archive, exit early
		if len(tasks) == 0 {
			return nil
		}

		_, err = tx.NamedExecContext(ctx, `insert into archived_tasks (id, label, status, worker, error, meta, created_at, updated_at)
			values (:id, :label, :status, :worker, :error, :meta, :created_at, :updated_at)`, tasks)
		if err != nil {
			return err
		}

		n = len(tasks)
		return nil
	})

	return n, err
}

func (s *Sqlite) Close() error {
	return s.db.Close()
}

func (s *Sqlite) inTx(ctx context.Context, cb func(*sqlx.Tx) error) (err error) {
	tx, beginErr := s.db.BeginTxx(ctx, nil)
	if beginErr != nil {
		return fmt.Errorf("cannot start tx: %w", beginErr)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = rollback(tx, nil)
			panic(rec)
		}
	}()

	if err = cb(tx); err != nil {
		return rollback(tx, err)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("cannot commit tx: %w", commitErr)
	}

	return nil
}

func rollback(tx *sqlx.Tx, err error) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return fmt.Errorf("cannot roll back tx after error (tx error: %v), original error: %w", rollbackErr, err)
	}
	return err
}

var _ journal.Store = (*Sqlite)(nil)
