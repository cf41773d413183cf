package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/logging"
	"github.com/orrn/printq/internal/metrics"
)

const (
	defaultStatusTimeout = 10 * time.Second

	MetaAddress  = "address"
	MetaType     = "type"
	MetaLocation = "location"
)

var printerTypeKeywords = []struct {
	kind     string
	keywords []string
}{
	{"thermal", []string{"thermal", "label", "zebra", "tsc", "xprinter", "godex", "argox"}},
	{"laser", []string{"laser", "laserjet"}},
	{"inkjet", []string{"inkjet", "deskjet", "officejet"}},
	{"dot_matrix", []string{"dot", "matrix", "epson_lx", "epson_fx"}},
}

// Registry tracks the dispatch pool. Membership is persisted through an
// optional PoolStore; status lives only in memory and is re-queried from the
// driver before it is trusted.
type Registry struct {
	driver   PrintDriver
	pool     PoolStore
	timeout  time.Duration
	logger   *slog.Logger
	mu       sync.RWMutex
	printers map[string]*Printer
	order    []string
	now      func() time.Time
}

func NewRegistry(driver PrintDriver, pool PoolStore, cfg *config.PrintersConfig, logger *slog.Logger) *Registry {
	timeout := defaultStatusTimeout
	if cfg != nil && cfg.StatusTimeout > 0 {
		timeout = cfg.StatusTimeout
	}

	return &Registry{
		driver:   driver,
		pool:     pool,
		timeout:  timeout,
		logger:   logging.Component(logger, "registry"),
		printers: make(map[string]*Printer),
		now:      time.Now,
	}
}

// Load restores pool membership from the PoolStore.
func (r *Registry) Load(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}

	printers, err := r.pool.LoadPool(ctx)
	if err != nil {
		return fmt.Errorf("failed to load printer pool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range printers {
		if _, exists := r.printers[p.Name]; exists {
			continue
		}
		loaded := p
		loaded.Status = PrinterUnknown
		loaded.LastCheckedAt = nil
		r.printers[p.Name] = &loaded
		r.order = append(r.order, p.Name)
	}

	r.logger.Info("printer pool loaded", "members", len(r.order))
	return nil
}

func (r *Registry) Register(ctx context.Context, name string, metadata map[string]string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidPrinterName
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	if meta[MetaType] == "" {
		meta[MetaType] = DetectPrinterType(name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.printers[name]; exists {
		return ErrPrinterAlreadyExists
	}

	p := &Printer{
		Name:         name,
		Metadata:     meta,
		Status:       PrinterUnknown,
		RegisteredAt: r.now(),
	}

	if r.pool != nil {
		if err := r.pool.SavePrinter(ctx, *p); err != nil {
			return fmt.Errorf("failed to save printer: %w", err)
		}
	}

	r.printers[name] = p
	r.order = append(r.order, name)
	r.logger.Info("printer registered", "printer", name, "type", meta[MetaType])

	return nil
}

// Deregister removes the printer from the pool. Jobs assigned to it are left
// alone; the dispatcher returns them on its next cycle.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.printers[name]; !exists {
		return ErrPrinterNotFound
	}

	if r.pool != nil {
		if err := r.pool.DeletePrinter(ctx, name); err != nil {
			return fmt.Errorf("failed to delete printer: %w", err)
		}
	}

	delete(r.printers, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	metrics.DeletePrinter(name)
	r.logger.Info("printer deregistered", "printer", name)

	return nil
}

// Members returns pool member names in registration order.
func (r *Registry) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

func (r *Registry) IsMember(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.printers[name]
	return exists
}

func (r *Registry) Get(name string) (Printer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.printers[name]
	if !exists {
		return Printer{}, ErrPrinterNotFound
	}
	return clonePrinter(p), nil
}

func (r *Registry) List() []Printer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	printers := make([]Printer, 0, len(r.order))
	for _, name := range r.order {
		printers = append(printers, clonePrinter(r.printers[name]))
	}
	return printers
}

// Address returns the network address recorded in the printer's metadata.
func (r *Registry) Address(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.printers[name]
	if !exists {
		return "", ErrPrinterNotFound
	}
	addr := p.Metadata[MetaAddress]
	if addr == "" {
		return "", fmt.Errorf("printer %s has no %q metadata", name, MetaAddress)
	}
	return addr, nil
}

// RefreshStatus asks the driver for the printer's status and records it. A
// driver failure yields PrinterUnknown and is never returned.
func (r *Registry) RefreshStatus(ctx context.Context, name string) PrinterStatus {
	status := PrinterUnknown

	if r.driver != nil {
		qctx, cancel := context.WithTimeout(ctx, r.timeout)
		s, err := r.driver.PrinterStatus(qctx, name)
		cancel()
		if err != nil {
			r.logger.Warn("status query failed", "printer", name, "error", err)
		} else {
			status = normalizeStatus(s)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// a printer deregistered during the query keeps its gauge deleted
	if p, exists := r.printers[name]; exists {
		now := r.now()
		if p.Status != status {
			r.logger.Debug("printer status changed", "printer", name, "from", p.Status, "to", status)
		}
		p.Status = status
		p.LastCheckedAt = &now
		metrics.SetPrinterReady(name, status == PrinterReady)
	}

	return status
}

// DetectPrinterType classifies a printer by keywords in its name.
func DetectPrinterType(name string) string {
	lower := strings.ToLower(name)
	for _, t := range printerTypeKeywords {
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				return t.kind
			}
		}
	}
	return "unknown"
}

func normalizeStatus(s PrinterStatus) PrinterStatus {
	switch s {
	case PrinterReady, PrinterBusy:
		return s
	default:
		return PrinterUnknown
	}
}

func clonePrinter(p *Printer) Printer {
	c := *p
	c.Metadata = make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		c.Metadata[k] = v
	}
	if p.LastCheckedAt != nil {
		t := *p.LastCheckedAt
		c.LastCheckedAt = &t
	}
	return c
}
