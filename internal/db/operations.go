package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/orrn/printq/internal/core"
)

// JobStore is the sqlite implementation of core.JobStore. Every transition
// runs in its own transaction.
type JobStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewJobStore(d *DB) *JobStore {
	return &JobStore{db: d.conn, now: time.Now}
}

func (s *JobStore) Enqueue(ctx context.Context, job core.Job) (string, error) {
	if job.ID == "" {
		job.ID = core.NewJobID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, JobExists, job.ID, job.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check job id: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: %s", core.ErrDuplicateJobID, job.ID)
		}

		seq, err := nextSeq(ctx, tx)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, InsertJob,
			job.ID, job.OrderID, job.Article, job.FilePath, job.Priority, seq, job.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return job.ID, nil
}

func (s *JobStore) ClaimNext(ctx context.Context, printerName string) (*core.Job, error) {
	if printerName == "" {
		return nil, core.ErrInvalidPrinterName
	}

	var claimed *core.Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		job, err := scanJob(tx.QueryRowContext(ctx, SelectNextPending))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to query next job: %w", err)
		}

		now := s.now()
		result, err := tx.ExecContext(ctx, ClaimJob, printerName, now, job.ID)
		if err != nil {
			return fmt.Errorf("failed to claim job: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			return nil
		}

		job.State = core.JobStateAssigned
		job.AssignedPrinter = printerName
		job.Attempts++
		if job.AssignedAt == nil {
			job.AssignedAt = &now
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (s *JobStore) Complete(ctx context.Context, id, printerName string) (bool, error) {
	var ok bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		job, err := scanJob(tx.QueryRowContext(ctx, SelectAssignedJob, id, printerName))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to query job: %w", err)
		}

		_, err = tx.ExecContext(ctx, ArchiveJob,
			job.ID, job.OrderID, job.Article, job.FilePath, job.Priority, job.Seq,
			printerName, job.Attempts, job.CreatedAt, nullTime(job.AssignedAt), s.now())
		if err != nil {
			return fmt.Errorf("failed to archive job: %w", err)
		}

		if _, err := tx.ExecContext(ctx, DeleteJob, id); err != nil {
			return fmt.Errorf("failed to delete active job: %w", err)
		}

		ok = true
		return nil
	})
	return ok, err
}

func (s *JobStore) ReturnToPending(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		job, err := scanJob(tx.QueryRowContext(ctx, SelectJobByID, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to query job: %w", err)
		}
		if job.State != core.JobStateAssigned {
			return nil
		}

		seq, err := nextSeq(ctx, tx)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, ReturnJob, seq, id)
		if err != nil {
			return fmt.Errorf("failed to return job: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}

		ok = affected == 1
		return nil
	})
	return ok, err
}

func (s *JobStore) Remove(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		removed, err := deleteAnywhere(ctx, tx, id)
		ok = removed
		return err
	})
	return ok, err
}

func (s *JobStore) Restart(ctx context.Context, id string) (string, bool, error) {
	var newID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		old, err := scanJob(tx.QueryRowContext(ctx, SelectJobByID, id))
		if errors.Is(err, sql.ErrNoRows) {
			old, err = scanCompleted(tx.QueryRowContext(ctx, SelectCompletedByID, id))
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to query job: %w", err)
		}

		if _, err := deleteAnywhere(ctx, tx, id); err != nil {
			return err
		}

		seq, err := nextSeq(ctx, tx)
		if err != nil {
			return err
		}

		fresh := core.NewJobID()
		_, err = tx.ExecContext(ctx, InsertJob,
			fresh, old.OrderID, old.Article, old.FilePath, old.Priority, seq, s.now())
		if err != nil {
			return fmt.Errorf("failed to insert restarted job: %w", err)
		}

		newID = fresh
		return nil
	})
	if err != nil {
		return "", false, err
	}

	return newID, newID != "", nil
}

func (s *JobStore) ListActive(ctx context.Context) ([]core.Job, error) {
	rows, err := s.db.QueryContext(ctx, ListActiveJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	defer rows.Close()

	jobs := []core.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *JobStore) ListCompleted(ctx context.Context) ([]core.Job, error) {
	rows, err := s.db.QueryContext(ctx, ListCompletedJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed jobs: %w", err)
	}
	defer rows.Close()

	jobs := []core.Job{}
	for rows.Next() {
		j, err := scanCompleted(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completed job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *JobStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nextSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	if _, err := tx.ExecContext(ctx, NextSequence); err != nil {
		return 0, fmt.Errorf("failed to advance job sequence: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, CurrentSequence).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read job sequence: %w", err)
	}
	return seq, nil
}

func deleteAnywhere(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	for _, q := range []string{DeleteJob, DeleteCompletedJob} {
		result, err := tx.ExecContext(ctx, q, id)
		if err != nil {
			return false, fmt.Errorf("failed to delete job: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected > 0 {
			return true, nil
		}
	}
	return false, nil
}
