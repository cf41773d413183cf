package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateAssigned  JobState = "assigned"
	JobStateCompleted JobState = "completed"
)

// Job is one unit of print work derived from a marketplace order.
type Job struct {
	ID              string     `json:"id"`
	OrderID         string     `json:"order_id"`
	Article         string     `json:"article"`
	FilePath        string     `json:"file_path"`
	Priority        int        `json:"priority"`
	State           JobState   `json:"state"`
	AssignedPrinter string     `json:"assigned_printer,omitempty"`
	PrintedOn       string     `json:"printed_on,omitempty"`
	Attempts        int        `json:"attempts"`
	Seq             int64      `json:"seq"`
	CreatedAt       time.Time  `json:"created_at"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Less reports whether j is served before other: lower priority value first,
// then earlier insertion.
func (j *Job) Less(other *Job) bool {
	if j.Priority != other.Priority {
		return j.Priority < other.Priority
	}
	return j.Seq < other.Seq
}

// NewJobID returns a time-ordered job identifier.
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type PrinterStatus string

const (
	PrinterReady   PrinterStatus = "ready"
	PrinterBusy    PrinterStatus = "busy"
	PrinterUnknown PrinterStatus = "unknown"
)

type Printer struct {
	Name          string            `json:"name"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Status        PrinterStatus     `json:"status"`
	RegisteredAt  time.Time         `json:"registered_at"`
	LastCheckedAt *time.Time        `json:"last_checked_at,omitempty"`
}

// Order is a marketplace order that may become a print job.
type Order struct {
	ID       string
	Article  string
	Priority *int
}

type DisplayStatus string

const (
	StatusQueued   DisplayStatus = "queued"
	StatusPrinting DisplayStatus = "printing"
	StatusPrinted  DisplayStatus = "printed"
)

// DisplayStatusFor maps a job state onto the status shown in reports.
func DisplayStatusFor(state JobState) DisplayStatus {
	switch state {
	case JobStateAssigned:
		return StatusPrinting
	case JobStateCompleted:
		return StatusPrinted
	default:
		return StatusQueued
	}
}

// JobStore is the priority-ordered store of job records. Every transition is
// atomic with respect to concurrent callers.
type JobStore interface {
	Enqueue(ctx context.Context, job Job) (string, error)
	// ClaimNext returns nil, nil when no job is pending.
	ClaimNext(ctx context.Context, printerName string) (*Job, error)
	Complete(ctx context.Context, id, printerName string) (bool, error)
	ReturnToPending(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
	Restart(ctx context.Context, id string) (string, bool, error)
	ListActive(ctx context.Context) ([]Job, error)
	ListCompleted(ctx context.Context) ([]Job, error)
}

// PoolStore persists printer pool membership. Status is never stored.
type PoolStore interface {
	LoadPool(ctx context.Context) ([]Printer, error)
	SavePrinter(ctx context.Context, p Printer) error
	DeletePrinter(ctx context.Context, name string) error
}

type PrintDriver interface {
	Submit(ctx context.Context, filePath, printerName string) error
	PrinterStatus(ctx context.Context, printerName string) (PrinterStatus, error)
	ActiveJobs(ctx context.Context, printerName string) (int, error)
}

type OrderSource interface {
	FetchNewOrders(ctx context.Context) ([]Order, error)
}

type ReportSink interface {
	RecordStatus(ctx context.Context, orderID string, status DisplayStatus, printerName string) error
}
