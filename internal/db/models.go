package db

import (
	"database/sql"
	"time"

	"github.com/orrn/printq/internal/core"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*core.Job, error) {
	var (
		j          core.Job
		state      string
		assignedAt sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.OrderID, &j.Article, &j.FilePath, &j.Priority, &j.Seq,
		&state, &j.AssignedPrinter, &j.Attempts, &j.CreatedAt, &assignedAt,
	)
	if err != nil {
		return nil, err
	}
	j.State = core.JobState(state)
	if assignedAt.Valid {
		t := assignedAt.Time
		j.AssignedAt = &t
	}
	return &j, nil
}

func scanCompleted(row rowScanner) (*core.Job, error) {
	var (
		j           core.Job
		assignedAt  sql.NullTime
		completedAt time.Time
	)
	err := row.Scan(
		&j.ID, &j.OrderID, &j.Article, &j.FilePath, &j.Priority, &j.Seq,
		&j.PrintedOn, &j.Attempts, &j.CreatedAt, &assignedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	j.State = core.JobStateCompleted
	j.CompletedAt = &completedAt
	if assignedAt.Valid {
		t := assignedAt.Time
		j.AssignedAt = &t
	}
	return &j, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
