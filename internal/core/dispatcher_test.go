package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/orrn/printq/internal/config"
)

type submission struct {
	file    string
	printer string
}

type fakeDriver struct {
	mu        sync.Mutex
	status    map[string]PrinterStatus
	statusErr map[string]error
	submitErr map[string]error
	block     map[string]bool
	active    map[string]int
	submits   []submission
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		status:    make(map[string]PrinterStatus),
		statusErr: make(map[string]error),
		submitErr: make(map[string]error),
		block:     make(map[string]bool),
		active:    make(map[string]int),
	}
}

func (f *fakeDriver) Submit(ctx context.Context, filePath, printerName string) error {
	f.mu.Lock()
	f.submits = append(f.submits, submission{file: filePath, printer: printerName})
	err, block := f.submitErr[printerName], f.block[printerName]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return &DriverError{Op: "submit", Printer: printerName, Err: ctx.Err()}
	}
	if err != nil {
		return &DriverError{Op: "submit", Printer: printerName, Err: err}
	}
	return nil
}

// flakyStore fails the next returnErrs calls to ReturnToPending.
type flakyStore struct {
	*MemoryJobStore
	mu         sync.Mutex
	returnErrs int
}

func (s *flakyStore) ReturnToPending(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	if s.returnErrs > 0 {
		s.returnErrs--
		s.mu.Unlock()
		return false, errors.New("database is locked")
	}
	s.mu.Unlock()
	return s.MemoryJobStore.ReturnToPending(ctx, id)
}

func (f *fakeDriver) PrinterStatus(ctx context.Context, printerName string) (PrinterStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[printerName]; err != nil {
		return PrinterUnknown, err
	}
	if s, ok := f.status[printerName]; ok {
		return s, nil
	}
	return PrinterUnknown, nil
}

func (f *fakeDriver) ActiveJobs(ctx context.Context, printerName string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[printerName], nil
}

func (f *fakeDriver) set(fn func(f *fakeDriver)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeDriver) submissions() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]submission, len(f.submits))
	copy(out, f.submits)
	return out
}

type harness struct {
	store      *MemoryJobStore
	driver     *fakeDriver
	registry   *Registry
	projector  *Projector
	dispatcher *Dispatcher
	dir        string
}

func newHarness(t *testing.T, printers ...string) *harness {
	t.Helper()

	h := &harness{
		store:  NewMemoryJobStore(),
		driver: newFakeDriver(),
		dir:    t.TempDir(),
	}
	h.registry = NewRegistry(h.driver, nil, nil, nil)
	h.projector = NewProjector(nil, 0, nil)
	h.dispatcher = NewDispatcher(h.store, h.registry, h.driver, h.projector, &config.DispatcherConfig{
		CheckInterval: 20 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
		WaitTimeout:   100 * time.Millisecond,
		DriverTimeout: time.Second,
	}, nil)

	for _, p := range printers {
		if err := h.registry.Register(context.Background(), p, nil); err != nil {
			t.Fatalf("Register(%s) error = %v", p, err)
		}
		h.driver.status[p] = PrinterReady
	}

	t.Cleanup(func() {
		h.dispatcher.Stop()
		h.dispatcher.Drain()
		h.projector.Close()
	})
	return h
}

func (h *harness) enqueue(t *testing.T, order string, priority int) string {
	t.Helper()
	path := filepath.Join(h.dir, order+".png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := h.store.Enqueue(context.Background(), Job{OrderID: order, Article: "A-" + order, FilePath: path, Priority: priority})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return id
}

func (h *harness) job(t *testing.T, id string) Job {
	t.Helper()
	active, _ := h.store.ListActive(context.Background())
	for _, j := range active {
		if j.ID == id {
			return j
		}
	}
	done, _ := h.store.ListCompleted(context.Background())
	for _, j := range done {
		if j.ID == id {
			return j
		}
	}
	t.Fatalf("job %s not found", id)
	return Job{}
}

func (h *harness) reported(t *testing.T, order string) DisplayStatus {
	t.Helper()
	e, ok := h.projector.Status(order)
	if !ok {
		t.Fatalf("no report for order %s", order)
	}
	return e.Status
}

// TestDispatchCompletesInPriorityOrder verifies two cycles against one printer
// print the lower priority value first and archive both jobs.
func TestDispatchCompletesInPriorityOrder(t *testing.T) {
	h := newHarness(t, "P")
	ctx := context.Background()
	j1 := h.enqueue(t, "o1", 1)
	j2 := h.enqueue(t, "o2", 2)

	report := h.dispatcher.RunCycle(ctx)
	if report.Result != CycleDispatched || report.Claimed["P"] != j1 {
		t.Fatalf("cycle 1 = %+v, want J1 on P", report)
	}
	h.dispatcher.Drain()

	if got := h.job(t, j1); got.State != JobStateCompleted || got.PrintedOn != "P" {
		t.Fatalf("J1 after cycle 1 = %+v", got)
	}
	if got := h.reported(t, "o1"); got != StatusPrinted {
		t.Fatalf("J1 reported = %s, want printed", got)
	}

	report = h.dispatcher.RunCycle(ctx)
	if report.Claimed["P"] != j2 {
		t.Fatalf("cycle 2 = %+v, want J2 on P", report)
	}
	h.dispatcher.Drain()

	if got := h.job(t, j2); got.State != JobStateCompleted {
		t.Fatalf("J2 after cycle 2 = %+v", got)
	}
	done, _ := h.store.ListCompleted(ctx)
	if len(done) != 2 || done[0].ID != j1 || done[1].ID != j2 {
		t.Fatalf("completed = %+v", done)
	}
}

// TestSubmitFailureReturnsJob verifies a failed submission puts the job back
// in the queue and reports it as queued again.
func TestSubmitFailureReturnsJob(t *testing.T) {
	h := newHarness(t, "P")
	ctx := context.Background()
	h.driver.submitErr["P"] = errors.New("lp: connection refused")
	j1 := h.enqueue(t, "o1", 1)

	h.dispatcher.RunCycle(ctx)
	h.dispatcher.Drain()

	got := h.job(t, j1)
	if got.State != JobStatePending || got.AssignedPrinter != "" {
		t.Fatalf("J1 after failed submit = %+v", got)
	}
	if s := h.reported(t, "o1"); s != StatusQueued {
		t.Fatalf("reported = %s, want queued", s)
	}

	h.driver.set(func(f *fakeDriver) { delete(f.submitErr, "P") })
	report := h.dispatcher.RunCycle(ctx)
	if report.Claimed["P"] != j1 {
		t.Fatalf("next cycle = %+v, want J1 reclaimed", report)
	}
	h.dispatcher.Drain()
	if got := h.job(t, j1); got.State != JobStateCompleted || got.Attempts != 2 {
		t.Fatalf("J1 after retry = %+v", got)
	}
}

// TestTwoReadyPrintersShareJobs verifies registration order decides which
// printer takes the higher-priority job and that no job is left unassigned.
func TestTwoReadyPrintersShareJobs(t *testing.T) {
	h := newHarness(t, "P2", "P1")
	h.driver.active["P1"] = 1
	h.driver.active["P2"] = 1
	j1 := h.enqueue(t, "o1", 1)
	j2 := h.enqueue(t, "o2", 2)

	report := h.dispatcher.RunCycle(context.Background())
	if report.Claimed["P2"] != j1 || report.Claimed["P1"] != j2 {
		t.Fatalf("claims = %v, want J1 on P2 and J2 on P1", report.Claimed)
	}

	active, _ := h.store.ListActive(context.Background())
	for _, j := range active {
		if j.State != JobStateAssigned {
			t.Fatalf("job %s left %s", j.ID, j.State)
		}
	}
}

func TestMorePrintersThanJobsStopsEarly(t *testing.T) {
	h := newHarness(t, "P1", "P2", "P3")
	j1 := h.enqueue(t, "o1", 1)

	report := h.dispatcher.RunCycle(context.Background())
	if len(report.Claimed) != 1 || report.Claimed["P1"] != j1 {
		t.Fatalf("claims = %v", report.Claimed)
	}
}

func TestWaitTimeoutReturnsJob(t *testing.T) {
	h := newHarness(t, "P")
	h.driver.active["P"] = 1
	j1 := h.enqueue(t, "o1", 1)

	h.dispatcher.RunCycle(context.Background())
	h.dispatcher.Drain()

	if got := h.job(t, j1); got.State != JobStatePending || got.AssignedPrinter != "" {
		t.Fatalf("J1 after timeout = %+v", got)
	}
	if s := h.reported(t, "o1"); s != StatusQueued {
		t.Fatalf("reported = %s, want queued", s)
	}
}

func TestMissingFileReturnsJobWithoutSubmitting(t *testing.T) {
	h := newHarness(t, "P")
	id, err := h.store.Enqueue(context.Background(), Job{OrderID: "o1", FilePath: filepath.Join(h.dir, "absent.png"), Priority: 1})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		h.dispatcher.RunCycle(context.Background())
		h.dispatcher.Drain()
	}

	if got := h.job(t, id); got.State != JobStatePending {
		t.Fatalf("job = %+v, want pending", got)
	}
	if subs := h.driver.submissions(); len(subs) != 0 {
		t.Fatalf("submissions = %v, want none", subs)
	}
}

func TestNoReadyPrintersLeavesJobsAlone(t *testing.T) {
	h := newHarness(t, "P1", "P2")
	h.driver.status["P1"] = PrinterBusy
	h.driver.statusErr["P2"] = errors.New("lpstat: timeout")
	j1 := h.enqueue(t, "o1", 1)

	report := h.dispatcher.RunCycle(context.Background())
	if report.Result != CycleNoReady {
		t.Fatalf("result = %s, want no_ready", report.Result)
	}
	if got := h.job(t, j1); got.State != JobStatePending {
		t.Fatalf("J1 = %+v, want pending", got)
	}
	if p, _ := h.registry.Get("P2"); p.Status != PrinterUnknown {
		t.Fatalf("P2 status = %s, want unknown", p.Status)
	}
}

func TestNoPrintersIsConfigSkip(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "o1", 1)

	report := h.dispatcher.RunCycle(context.Background())
	if report.Result != CycleNoPrinters {
		t.Fatalf("result = %s", report.Result)
	}
	if !IsConfigError(report.Err) || !errors.Is(report.Err, ErrNoPrinters) {
		t.Fatalf("err = %v, want ConfigError(ErrNoPrinters)", report.Err)
	}
}

// TestDeregisteredPrinterJobIsReturned verifies a job bound to a printer that
// left the pool is returned and redispatched in the same cycle.
func TestDeregisteredPrinterJobIsReturned(t *testing.T) {
	h := newHarness(t, "Gone", "P")
	ctx := context.Background()
	h.driver.active["P"] = 1
	j1 := h.enqueue(t, "o1", 1)

	if job, _ := h.store.ClaimNext(ctx, "Gone"); job == nil || job.ID != j1 {
		t.Fatalf("manual claim = %v", job)
	}
	if err := h.registry.Deregister(ctx, "Gone"); err != nil {
		t.Fatal(err)
	}

	report := h.dispatcher.RunCycle(ctx)
	if report.Reconciled != 1 {
		t.Fatalf("reconciled = %d, want 1", report.Reconciled)
	}
	if report.Claimed["P"] != j1 {
		t.Fatalf("claims = %v, want J1 on P", report.Claimed)
	}
}

// TestInFlightPrinterIsSkipped verifies a printer still waiting on a job is not
// given a second one, and that a stop leaves the job assigned.
func TestInFlightPrinterIsSkipped(t *testing.T) {
	h := newHarness(t, "P")
	h.dispatcher.config.WaitTimeout = time.Minute
	h.driver.active["P"] = 1
	j1 := h.enqueue(t, "o1", 1)
	j2 := h.enqueue(t, "o2", 2)

	ctx, cancel := context.WithCancel(context.Background())
	first := h.dispatcher.RunCycle(ctx)
	if first.Claimed["P"] != j1 {
		t.Fatalf("first cycle = %+v", first)
	}

	second := h.dispatcher.RunCycle(ctx)
	if len(second.Claimed) != 0 || second.Result != CycleNoReady {
		t.Fatalf("second cycle = %+v, want no claims", second)
	}
	if got := h.job(t, j2); got.State != JobStatePending {
		t.Fatalf("J2 = %+v, want pending", got)
	}

	cancel()
	h.dispatcher.Drain()

	if got := h.job(t, j1); got.State != JobStateAssigned || got.AssignedPrinter != "P" {
		t.Fatalf("J1 after stop = %+v, want still assigned to P", got)
	}
	if len(h.dispatcher.InFlight()) != 0 {
		t.Fatalf("in-flight after drain = %v", h.dispatcher.InFlight())
	}
}

func TestStartReturnsOrphansOnIdlePrinters(t *testing.T) {
	h := newHarness(t, "P")
	ctx := context.Background()
	h.driver.status["P"] = PrinterUnknown
	j1 := h.enqueue(t, "o1", 1)
	if _, err := h.store.ClaimNext(ctx, "P"); err != nil {
		t.Fatal(err)
	}

	if err := h.dispatcher.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.dispatcher.Stop()

	if got := h.job(t, j1); got.State != JobStatePending {
		t.Fatalf("orphan = %+v, want pending", got)
	}
}

func TestStartAdoptsOrphanOnBusyPrinter(t *testing.T) {
	h := newHarness(t, "P")
	ctx := context.Background()
	h.driver.status["P"] = PrinterBusy
	j1 := h.enqueue(t, "o1", 1)
	if _, err := h.store.ClaimNext(ctx, "P"); err != nil {
		t.Fatal(err)
	}

	if err := h.dispatcher.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.job(t, j1).State != JobStateCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("adopted job never completed: %+v", h.job(t, j1))
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.dispatcher.Stop()

	if subs := h.driver.submissions(); len(subs) != 0 {
		t.Fatalf("adopted job was resubmitted: %v", subs)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, "P")
	j1 := h.enqueue(t, "o1", 1)

	if err := h.dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !h.dispatcher.Running() {
		t.Fatalf("Running() = false after Start")
	}
	if err := h.dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.job(t, j1).State != JobStateCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("job never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.dispatcher.Stop()
	if h.dispatcher.Running() {
		t.Fatalf("Running() = true after Stop")
	}
	h.dispatcher.Stop()
}

// TestFailedReturnIsRetriedNextCycle verifies a job left assigned by a store
// error is returned by the next cycle and dispatched again.
func TestFailedReturnIsRetriedNextCycle(t *testing.T) {
	h := newHarness(t, "P")
	ctx := context.Background()
	store := &flakyStore{MemoryJobStore: h.store, returnErrs: 1}
	d := NewDispatcher(store, h.registry, h.driver, h.projector, &h.dispatcher.config, nil)
	h.driver.submitErr["P"] = errors.New("lp: connection refused")
	j1 := h.enqueue(t, "o1", 1)

	d.RunCycle(ctx)
	d.Drain()

	if got := h.job(t, j1); got.State != JobStateAssigned || got.AssignedPrinter != "P" {
		t.Fatalf("J1 after failed return = %+v, want assigned to P", got)
	}
	if len(d.InFlight()) != 0 {
		t.Fatalf("in-flight = %v, want empty", d.InFlight())
	}

	h.driver.set(func(f *fakeDriver) { delete(f.submitErr, "P") })
	report := d.RunCycle(ctx)
	if report.Reconciled != 1 {
		t.Fatalf("reconciled = %d, want 1", report.Reconciled)
	}
	if report.Claimed["P"] != j1 {
		t.Fatalf("claims = %v, want J1 on P", report.Claimed)
	}
	d.Drain()

	if got := h.job(t, j1); got.State != JobStateCompleted || got.Attempts != 2 {
		t.Fatalf("J1 after retry = %+v, want completed on attempt 2", got)
	}
}

// TestStopDuringWaitLeavesJobAssigned verifies Stop interrupts a completion
// wait without returning or completing the job.
func TestStopDuringWaitLeavesJobAssigned(t *testing.T) {
	h := newHarness(t, "P")
	h.dispatcher.config.WaitTimeout = time.Minute
	h.driver.active["P"] = 1
	j1 := h.enqueue(t, "o1", 1)

	if err := h.dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(h.driver.submissions()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("job was never submitted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.dispatcher.Stop()

	got := h.job(t, j1)
	if got.State != JobStateAssigned || got.AssignedPrinter != "P" || got.Attempts != 1 {
		t.Fatalf("J1 after stop = %+v, want assigned to P", got)
	}
	if s := h.reported(t, "o1"); s != StatusPrinting {
		t.Fatalf("reported = %s, want printing", s)
	}
	if len(h.dispatcher.InFlight()) != 0 {
		t.Fatalf("in-flight after stop = %v", h.dispatcher.InFlight())
	}
}

// TestSubmitTimeoutReturnsJob verifies a submission that never answers is cut
// off by the driver timeout and treated as a failure.
func TestSubmitTimeoutReturnsJob(t *testing.T) {
	h := newHarness(t, "P")
	h.dispatcher.config.DriverTimeout = 30 * time.Millisecond
	h.driver.block["P"] = true
	j1 := h.enqueue(t, "o1", 1)

	start := time.Now()
	h.dispatcher.RunCycle(context.Background())
	h.dispatcher.Drain()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("submit was not bounded by the driver timeout: %v", elapsed)
	}

	got := h.job(t, j1)
	if got.State != JobStatePending || got.AssignedPrinter != "" || got.Attempts != 1 {
		t.Fatalf("J1 after submit timeout = %+v, want pending", got)
	}
	if s := h.reported(t, "o1"); s != StatusQueued {
		t.Fatalf("reported = %s, want queued", s)
	}
	if subs := h.driver.submissions(); len(subs) != 1 {
		t.Fatalf("submissions = %v, want one", subs)
	}
}
