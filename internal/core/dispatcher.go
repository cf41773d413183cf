package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/logging"
	"github.com/orrn/printq/internal/metrics"
)

type CycleResult string

const (
	CycleDispatched CycleResult = "dispatched"
	CycleIdle       CycleResult = "idle"
	CycleNoPrinters CycleResult = "no_printers"
	CycleNoReady    CycleResult = "no_ready"
	CycleError      CycleResult = "error"
)

// CycleReport summarizes one dispatch cycle.
type CycleReport struct {
	Result     CycleResult
	Ready      []string
	Claimed    map[string]string // printer -> job id
	Reconciled int
	Err        error
}

// Dispatcher matches ready printers to pending jobs on a fixed interval and
// supervises each (printer, job) pair until completion, failure or timeout.
type Dispatcher struct {
	store     JobStore
	registry  *Registry
	driver    PrintDriver
	projector *Projector
	config    config.DispatcherConfig
	logger    *slog.Logger
	statFile  func(string) error

	cycleMu  sync.Mutex
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight map[string]string
	warned   map[string]bool
	wg       sync.WaitGroup
}

func NewDispatcher(store JobStore, registry *Registry, driver PrintDriver, projector *Projector, cfg *config.DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg == nil {
		cfg = &config.DispatcherConfig{
			CheckInterval: 5 * time.Second,
			PollInterval:  3 * time.Second,
			WaitTimeout:   60 * time.Second,
			DriverTimeout: 10 * time.Second,
		}
	}

	return &Dispatcher{
		store:     store,
		registry:  registry,
		driver:    driver,
		projector: projector,
		config:    *cfg,
		logger:    logging.Component(logger, "dispatcher"),
		statFile:  statRegularFile,
		inflight:  make(map[string]string),
		warned:    make(map[string]bool),
	}
}

// Start reconciles jobs orphaned by a previous run and then starts the cycle
// loop. Calling Start on a running dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.loopDone = make(chan struct{})
	d.mu.Unlock()

	if err := d.reconcileOrphans(loopCtx); err != nil {
		d.mu.Lock()
		d.running = false
		d.cancel = nil
		close(d.loopDone)
		d.mu.Unlock()
		cancel()
		return fmt.Errorf("failed to reconcile orphaned jobs: %w", err)
	}

	go d.loop(loopCtx, d.loopDone)
	d.logger.Info("dispatcher started", "check_interval", d.config.CheckInterval)

	return nil
}

// Stop halts the loop between cycles and waits for in-flight pairs to notice
// the stop signal. Jobs still waiting on a printer stay assigned.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel, done := d.cancel, d.loopDone
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	<-done
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Drain waits until no pair is in flight.
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}

// InFlight returns the printers currently bound to a job.
func (d *Dispatcher) InFlight() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]string, len(d.inflight))
	for p, id := range d.inflight {
		out[p] = id
	}
	return out
}

func (d *Dispatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	d.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunCycle(ctx)
		}
	}
}

// RunCycle performs one dispatch cycle. The claim phase runs to completion
// before any pair is started; pairs then run on their own goroutines.
func (d *Dispatcher) RunCycle(ctx context.Context) CycleReport {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	report := d.runCycle(ctx)
	metrics.IncDispatchCycle(string(report.Result))
	return report
}

func (d *Dispatcher) runCycle(ctx context.Context) CycleReport {
	report := CycleReport{Claimed: make(map[string]string)}

	if ctx.Err() != nil {
		report.Result = CycleIdle
		return report
	}

	n, err := d.reconcileDangling(ctx)
	report.Reconciled = n
	if err != nil {
		d.logger.Error("reconcile failed", "error", err)
		report.Result, report.Err = CycleError, err
		return report
	}

	members := d.registry.Members()
	if len(members) == 0 {
		err := &ConfigError{Component: "dispatcher", Err: ErrNoPrinters}
		d.logger.Warn("skipping cycle", "error", err)
		report.Result, report.Err = CycleNoPrinters, err
		return report
	}

	ready := d.readyPrinters(ctx, members)
	report.Ready = ready
	if len(ready) == 0 {
		d.logger.Debug("skipping cycle, no ready printers", "members", len(members))
		report.Result = CycleNoReady
		return report
	}

	type pair struct {
		printer string
		job     *Job
	}
	var pairs []pair

	for _, printer := range ready {
		job, err := d.store.ClaimNext(ctx, printer)
		if err != nil {
			d.logger.Error("claim failed", "printer", printer, "error", err)
			report.Err = fmt.Errorf("failed to claim job for %s: %w", printer, err)
			break
		}
		if job == nil {
			break
		}

		metrics.IncJobTransition(string(JobStatePending), string(JobStateAssigned))
		d.project(*job)
		d.logger.Info("job assigned", "job_id", job.ID, "order_id", job.OrderID, "printer", printer, "attempt", job.Attempts)

		d.mu.Lock()
		d.inflight[printer] = job.ID
		d.mu.Unlock()

		pairs = append(pairs, pair{printer: printer, job: job})
		report.Claimed[printer] = job.ID
	}

	for _, p := range pairs {
		d.wg.Add(1)
		go d.process(ctx, p.printer, *p.job)
	}

	switch {
	case len(pairs) > 0:
		report.Result = CycleDispatched
	case report.Err != nil:
		report.Result = CycleError
	default:
		report.Result = CycleIdle
	}

	return report
}

// readyPrinters refreshes every member without a pair in flight and returns
// those reporting ready, in registration order.
func (d *Dispatcher) readyPrinters(ctx context.Context, members []string) []string {
	d.mu.Lock()
	candidates := make([]string, 0, len(members))
	for _, name := range members {
		if _, busy := d.inflight[name]; !busy {
			candidates = append(candidates, name)
		}
	}
	d.mu.Unlock()

	statuses := make([]PrinterStatus, len(candidates))
	var wg sync.WaitGroup
	for i, name := range candidates {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			statuses[i] = d.registry.RefreshStatus(ctx, name)
		}(i, name)
	}
	wg.Wait()

	var ready []string
	for i, name := range candidates {
		if statuses[i] == PrinterReady {
			ready = append(ready, name)
		}
	}
	return ready
}

func (d *Dispatcher) process(ctx context.Context, printer string, job Job) {
	defer d.wg.Done()
	defer d.release(printer)

	if err := d.statFile(job.FilePath); err != nil {
		metrics.IncSubmitFailure("missing_file")
		d.warnMissing(job, err)
		d.returnJob(ctx, job, "file missing")
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, d.config.DriverTimeout)
	err := d.driver.Submit(submitCtx, job.FilePath, printer)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			d.logger.Info("stop signal during submit, leaving job assigned", "job_id", job.ID, "printer", printer)
			return
		}
		metrics.IncSubmitFailure("driver")
		d.logger.Warn("submit failed", "job_id", job.ID, "printer", printer, "error", err)
		d.returnJob(ctx, job, "submit failed")
		return
	}

	d.logger.Info("job submitted", "job_id", job.ID, "printer", printer, "file", job.FilePath)
	d.await(ctx, printer, job)
}

// await polls the printer until its active job count drops to zero or the
// wait ceiling passes.
func (d *Dispatcher) await(ctx context.Context, printer string, job Job) {
	started := time.Now()
	done, err := d.waitForCompletion(ctx, printer)
	if err != nil {
		d.logger.Info("stop signal during wait, leaving job assigned", "job_id", job.ID, "printer", printer)
		return
	}

	if !done {
		metrics.IncWaitTimeout()
		d.logger.Warn("completion wait timed out", "job_id", job.ID, "printer", printer, "timeout", d.config.WaitTimeout)
		d.returnJob(ctx, job, "wait timeout")
		return
	}

	metrics.ObserveWait(time.Since(started))
	d.completeJob(ctx, printer, job)
}

func (d *Dispatcher) waitForCompletion(ctx context.Context, printer string) (bool, error) {
	deadline := time.NewTimer(d.config.WaitTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
			qctx, cancel := context.WithTimeout(ctx, d.config.DriverTimeout)
			n, err := d.driver.ActiveJobs(qctx, printer)
			cancel()
			if err != nil {
				// no answer counts as still busy
				d.logger.Debug("active job query failed", "printer", printer, "error", err)
				continue
			}
			if n == 0 {
				return true, nil
			}
		}
	}
}

func (d *Dispatcher) completeJob(ctx context.Context, printer string, job Job) {
	ok, err := d.store.Complete(context.WithoutCancel(ctx), job.ID, printer)
	if err != nil {
		// left assigned; reconcileDangling returns it once the pair is released
		d.logger.Error("complete failed", "job_id", job.ID, "printer", printer, "error", err)
		return
	}
	if !ok {
		metrics.IncStaleTransition("complete")
		d.logger.Warn("stale completion ignored", "job_id", job.ID, "printer", printer)
		return
	}

	metrics.IncJobTransition(string(JobStateAssigned), string(JobStateCompleted))
	job.State = JobStateCompleted
	job.AssignedPrinter = ""
	job.PrintedOn = printer
	d.project(job)
	d.logger.Info("job completed", "job_id", job.ID, "order_id", job.OrderID, "printer", printer)
}

// returnJob reports whether the job went back to pending. A store error
// leaves it assigned; the next cycle finds it unsupervised and retries.
func (d *Dispatcher) returnJob(ctx context.Context, job Job, reason string) bool {
	ok, err := d.store.ReturnToPending(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		d.logger.Error("return to pending failed", "job_id", job.ID, "reason", reason, "error", err)
		return false
	}
	if !ok {
		metrics.IncStaleTransition("return")
		d.logger.Warn("stale return ignored", "job_id", job.ID, "reason", reason)
		return false
	}

	metrics.IncJobTransition(string(JobStateAssigned), string(JobStatePending))
	job.State = JobStatePending
	job.AssignedPrinter = ""
	d.project(job)
	d.logger.Info("job returned to queue", "job_id", job.ID, "order_id", job.OrderID, "reason", reason)
	return true
}

// reconcileDangling returns assigned jobs that no pair is supervising: their
// printer left the pool, or an earlier transition for them failed in the
// store. The in-flight map is authoritative because this dispatcher is the
// only coordinator for its store.
func (d *Dispatcher) reconcileDangling(ctx context.Context) (int, error) {
	jobs, err := d.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active jobs: %w", err)
	}

	returned := 0
	for _, job := range jobs {
		if job.State != JobStateAssigned || d.isInFlight(job.AssignedPrinter, job.ID) {
			continue
		}

		reason := "unsupervised"
		if !d.registry.IsMember(job.AssignedPrinter) {
			reason = "printer deregistered"
		}
		d.logger.Warn("returning dangling job", "job_id", job.ID, "printer", job.AssignedPrinter, "reason", reason)
		if d.returnJob(ctx, job, reason) {
			returned++
		}
	}
	return returned, nil
}

// reconcileOrphans handles assigned jobs left behind by a previous run. A job
// whose printer is still busy is adopted and waited on; the rest go back to
// the queue.
func (d *Dispatcher) reconcileOrphans(ctx context.Context) error {
	jobs, err := d.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active jobs: %w", err)
	}

	for _, job := range jobs {
		if job.State != JobStateAssigned || d.isInFlight(job.AssignedPrinter, job.ID) {
			continue
		}

		printer := job.AssignedPrinter
		if d.registry.IsMember(printer) && d.registry.RefreshStatus(ctx, printer) == PrinterBusy {
			if !d.adopt(printer, job.ID) {
				d.returnJob(ctx, job, "orphaned")
				continue
			}
			d.logger.Info("adopting orphaned job", "job_id", job.ID, "printer", printer)
			d.wg.Add(1)
			go func(job Job) {
				defer d.wg.Done()
				defer d.release(printer)
				d.await(ctx, printer, job)
			}(job)
			continue
		}

		d.returnJob(ctx, job, "orphaned")
	}
	return nil
}

func (d *Dispatcher) adopt(printer, jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.inflight[printer]; busy {
		return false
	}
	d.inflight[printer] = jobID
	return true
}

func (d *Dispatcher) isInFlight(printer, jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight[printer] == jobID
}

func (d *Dispatcher) release(printer string) {
	d.mu.Lock()
	delete(d.inflight, printer)
	d.mu.Unlock()
}

func (d *Dispatcher) warnMissing(job Job, err error) {
	d.mu.Lock()
	first := !d.warned[job.FilePath]
	d.warned[job.FilePath] = true
	d.mu.Unlock()

	if first {
		d.logger.Warn("print file missing", "job_id", job.ID, "file", job.FilePath, "error", err)
		return
	}
	d.logger.Debug("print file still missing", "job_id", job.ID, "file", job.FilePath)
}

func (d *Dispatcher) project(job Job) {
	if d.projector != nil {
		d.projector.Observe(job)
	}
}

func statRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
	}
	return nil
}
