package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/orrn/printq/internal/logging"
	"github.com/orrn/printq/internal/metrics"
)

const (
	defaultReportQueueSize = 256
	sinkCallTimeout        = 30 * time.Second
)

type StatusEntry struct {
	OrderID   string        `json:"order_id"`
	Status    DisplayStatus `json:"status"`
	Printer   string        `json:"printer,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Projector mirrors job transitions into a ReportSink. It remembers the last
// status per order and forwards each update from a single goroutine so a slow
// sink never holds up the caller.
type Projector struct {
	sink    ReportSink
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]StatusEntry
	events  chan StatusEntry
	done    chan struct{}
	closed  bool
	now     func() time.Time
}

func NewProjector(sink ReportSink, queueSize int, logger *slog.Logger) *Projector {
	if queueSize <= 0 {
		queueSize = defaultReportQueueSize
	}

	p := &Projector{
		sink:    sink,
		logger:  logging.Component(logger, "projector"),
		entries: make(map[string]StatusEntry),
		events:  make(chan StatusEntry, queueSize),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go p.forward()

	return p
}

// OnTransition records status for orderID, overwriting any earlier value.
func (p *Projector) OnTransition(orderID string, status DisplayStatus, printer string) {
	if orderID == "" {
		return
	}

	entry := StatusEntry{
		OrderID:   orderID,
		Status:    status,
		Printer:   printer,
		UpdatedAt: p.now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries[orderID] = entry
	if p.sink == nil || p.closed {
		return
	}

	select {
	case p.events <- entry:
	default:
		metrics.IncReportDrop()
		p.logger.Warn("report queue full, dropping status", "order_id", orderID, "status", status)
	}
}

// Observe reports job at the display status matching its state.
func (p *Projector) Observe(job Job) {
	printer := job.AssignedPrinter
	if job.State == JobStateCompleted {
		printer = job.PrintedOn
	}
	p.OnTransition(job.OrderID, DisplayStatusFor(job.State), printer)
}

func (p *Projector) Status(orderID string) (StatusEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[orderID]
	return e, ok
}

// Snapshot returns every remembered status ordered by order id.
func (p *Projector) Snapshot() []StatusEntry {
	p.mu.RLock()
	entries := make([]StatusEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].OrderID < entries[j].OrderID
	})
	return entries
}

// Close stops accepting updates and waits for queued ones to reach the sink.
func (p *Projector) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()

	<-p.done
}

func (p *Projector) forward() {
	defer close(p.done)

	for entry := range p.events {
		if err := p.deliver(entry); err != nil {
			metrics.IncReportDrop()
			p.logger.Warn("report sink failed", "order_id", entry.OrderID, "status", entry.Status, "error", err)
		}
	}
}

func (p *Projector) deliver(entry StatusEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sinkCallTimeout)
	defer cancel()

	return p.sink.RecordStatus(ctx, entry.OrderID, entry.Status, entry.Printer)
}
