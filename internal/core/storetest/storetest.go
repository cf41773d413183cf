// Package storetest holds the behavioral suite every core.JobStore
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/orrn/printq/internal/core"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) core.JobStore

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, core.JobStore)
	}{
		{"ClaimReturnsLowestPriority", testClaimReturnsLowestPriority},
		{"TiesBreakByInsertion", testTiesBreakByInsertion},
		{"ClaimEmptyReturnsNil", testClaimEmptyReturnsNil},
		{"ConcurrentClaimsAreUnique", testConcurrentClaimsAreUnique},
		{"ClaimSetsAssignment", testClaimSetsAssignment},
		{"CompleteArchives", testCompleteArchives},
		{"CompleteTwiceIsNoop", testCompleteTwiceIsNoop},
		{"CompleteWrongPrinter", testCompleteWrongPrinter},
		{"ReturnToPendingIsReclaimable", testReturnToPendingIsReclaimable},
		{"ReturnQueuesBehindEqualPriority", testReturnQueuesBehindEqualPriority},
		{"ReturnQueuesBehindWaitingPeers", testReturnQueuesBehindWaitingPeers},
		{"ReturnPendingJobIsNoop", testReturnPendingJobIsNoop},
		{"RemoveAnyState", testRemoveAnyState},
		{"RestartIssuesNewID", testRestartIssuesNewID},
		{"RestartCompletedJob", testRestartCompletedJob},
		{"RestartMissing", testRestartMissing},
		{"DuplicateID", testDuplicateID},
		{"ListActiveOrder", testListActiveOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func enqueue(t *testing.T, s core.JobStore, order string, priority int) string {
	t.Helper()
	id, err := s.Enqueue(context.Background(), core.Job{
		OrderID:  order,
		Article:  "art-" + order,
		FilePath: "/labels/" + order + ".png",
		Priority: priority,
	})
	if err != nil {
		t.Fatalf("Enqueue(%s) error = %v", order, err)
	}
	if id == "" {
		t.Fatalf("Enqueue(%s) returned empty id", order)
	}
	return id
}

func claim(t *testing.T, s core.JobStore, printer string) *core.Job {
	t.Helper()
	job, err := s.ClaimNext(context.Background(), printer)
	if err != nil {
		t.Fatalf("ClaimNext(%s) error = %v", printer, err)
	}
	return job
}

func testClaimReturnsLowestPriority(t *testing.T, s core.JobStore) {
	enqueue(t, s, "o5", 5)
	enqueue(t, s, "o1", 1)
	enqueue(t, s, "o3", 3)
	enqueue(t, s, "o-2", -2)

	want := []string{"o-2", "o1", "o3", "o5"}
	for _, order := range want {
		job := claim(t, s, "P1")
		if job == nil {
			t.Fatalf("ClaimNext() = nil, want %s", order)
		}
		if job.OrderID != order {
			t.Fatalf("ClaimNext() order = %s, want %s", job.OrderID, order)
		}
	}
}

func testTiesBreakByInsertion(t *testing.T, s core.JobStore) {
	first := enqueue(t, s, "a", 2)
	second := enqueue(t, s, "b", 2)
	third := enqueue(t, s, "c", 2)

	for _, want := range []string{first, second, third} {
		job := claim(t, s, "P1")
		if job == nil || job.ID != want {
			t.Fatalf("ClaimNext() = %v, want id %s", job, want)
		}
	}
}

func testClaimEmptyReturnsNil(t *testing.T, s core.JobStore) {
	if job := claim(t, s, "P1"); job != nil {
		t.Fatalf("ClaimNext() on empty store = %+v, want nil", job)
	}

	id := enqueue(t, s, "only", 1)
	if job := claim(t, s, "P1"); job == nil || job.ID != id {
		t.Fatalf("ClaimNext() = %v, want %s", job, id)
	}
	if job := claim(t, s, "P2"); job != nil {
		t.Fatalf("ClaimNext() with only assigned jobs = %+v, want nil", job)
	}
}

func testConcurrentClaimsAreUnique(t *testing.T, s core.JobStore) {
	const jobs = 40
	const workers = 8

	for i := 0; i < jobs; i++ {
		enqueue(t, s, fmt.Sprintf("o%02d", i), i%4)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]string)
		errs []error
		wg   sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(printer string) {
			defer wg.Done()
			for {
				job, err := s.ClaimNext(context.Background(), printer)
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				if other, dup := seen[job.ID]; dup {
					errs = append(errs, fmt.Errorf("job %s claimed by %s and %s", job.ID, other, printer))
				}
				seen[job.ID] = printer
				mu.Unlock()
			}
		}(fmt.Sprintf("P%d", w))
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("concurrent claims: %v", errors.Join(errs...))
	}
	if len(seen) != jobs {
		t.Fatalf("claimed %d jobs, want %d", len(seen), jobs)
	}
}

func testClaimSetsAssignment(t *testing.T, s core.JobStore) {
	id := enqueue(t, s, "o1", 1)

	active, err := s.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 1 || active[0].State != core.JobStatePending || active[0].AssignedPrinter != "" {
		t.Fatalf("pending job = %+v", active)
	}

	job := claim(t, s, "P1")
	if job.ID != id || job.State != core.JobStateAssigned || job.AssignedPrinter != "P1" {
		t.Fatalf("claimed job = %+v", job)
	}
	if job.AssignedAt == nil || job.Attempts != 1 {
		t.Fatalf("claimed job AssignedAt = %v, Attempts = %d", job.AssignedAt, job.Attempts)
	}

	active, err = s.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 1 || active[0].State != core.JobStateAssigned || active[0].AssignedPrinter != "P1" {
		t.Fatalf("assigned job in listing = %+v", active)
	}
}

func testCompleteArchives(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	id := enqueue(t, s, "o1", 1)
	claim(t, s, "P1")

	ok, err := s.Complete(ctx, id, "P1")
	if err != nil || !ok {
		t.Fatalf("Complete() = %v, %v, want true", ok, err)
	}

	active, _ := s.ListActive(ctx)
	if len(active) != 0 {
		t.Fatalf("active after complete = %+v", active)
	}

	done, err := s.ListCompleted(ctx)
	if err != nil {
		t.Fatalf("ListCompleted() error = %v", err)
	}
	if len(done) != 1 {
		t.Fatalf("completed = %d jobs, want 1", len(done))
	}
	j := done[0]
	if j.ID != id || j.State != core.JobStateCompleted || j.AssignedPrinter != "" || j.PrintedOn != "P1" || j.CompletedAt == nil {
		t.Fatalf("archived job = %+v", j)
	}
}

func testCompleteTwiceIsNoop(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	id := enqueue(t, s, "o1", 1)
	claim(t, s, "P1")

	if ok, err := s.Complete(ctx, id, "P1"); err != nil || !ok {
		t.Fatalf("first Complete() = %v, %v", ok, err)
	}
	before, _ := s.ListCompleted(ctx)

	ok, err := s.Complete(ctx, id, "P1")
	if err != nil {
		t.Fatalf("second Complete() error = %v", err)
	}
	if ok {
		t.Fatalf("second Complete() = true, want false")
	}

	after, _ := s.ListCompleted(ctx)
	if len(after) != len(before) || !after[0].CompletedAt.Equal(*before[0].CompletedAt) {
		t.Fatalf("archive changed: before %+v after %+v", before, after)
	}
}

func testCompleteWrongPrinter(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	id := enqueue(t, s, "o1", 1)

	if ok, _ := s.Complete(ctx, id, "P1"); ok {
		t.Fatalf("Complete() on pending job = true")
	}

	claim(t, s, "P1")
	if ok, _ := s.Complete(ctx, id, "P2"); ok {
		t.Fatalf("Complete() with wrong printer = true")
	}
	if ok, _ := s.Complete(ctx, "missing", "P1"); ok {
		t.Fatalf("Complete() with unknown id = true")
	}
}

func testReturnToPendingIsReclaimable(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	id := enqueue(t, s, "o1", 1)
	enqueue(t, s, "o2", 2)
	claim(t, s, "P1")

	ok, err := s.ReturnToPending(ctx, id)
	if err != nil || !ok {
		t.Fatalf("ReturnToPending() = %v, %v", ok, err)
	}

	active, _ := s.ListActive(ctx)
	for _, j := range active {
		if j.ID == id && (j.State != core.JobStatePending || j.AssignedPrinter != "") {
			t.Fatalf("returned job = %+v", j)
		}
	}

	job := claim(t, s, "P2")
	if job == nil || job.ID != id {
		t.Fatalf("reclaim = %v, want %s", job, id)
	}
	if job.Priority != 1 || job.Attempts != 2 {
		t.Fatalf("reclaimed job priority = %d attempts = %d", job.Priority, job.Attempts)
	}
}

// A returned job takes a fresh sequence number, so equal-priority jobs that
// were already waiting when it was claimed are served first.
func testReturnQueuesBehindWaitingPeers(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	first := enqueue(t, s, "o1", 1)
	second := enqueue(t, s, "o2", 1)
	urgent := enqueue(t, s, "o0", 0)

	if job := claim(t, s, "P1"); job == nil || job.ID != urgent {
		t.Fatalf("first claim = %v, want %s", job, urgent)
	}
	if job := claim(t, s, "P1"); job == nil || job.ID != first {
		t.Fatalf("second claim = %v, want %s", job, first)
	}
	if ok, _ := s.ReturnToPending(ctx, first); !ok {
		t.Fatalf("ReturnToPending() = false")
	}

	if job := claim(t, s, "P1"); job == nil || job.ID != second {
		t.Fatalf("claim after return = %v, want waiting peer %s", job, second)
	}
	if job := claim(t, s, "P1"); job == nil || job.ID != first {
		t.Fatalf("last claim = %v, want returned job %s", job, first)
	}
}

func testReturnQueuesBehindEqualPriority(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	id := enqueue(t, s, "o1", 1)
	claim(t, s, "P1")
	later := enqueue(t, s, "o2", 1)

	if ok, _ := s.ReturnToPending(ctx, id); !ok {
		t.Fatalf("ReturnToPending() = false")
	}

	if job := claim(t, s, "P1"); job == nil || job.ID != later {
		t.Fatalf("claim after return = %v, want equal-priority job %s", job, later)
	}
	if job := claim(t, s, "P1"); job == nil || job.ID != id {
		t.Fatalf("second claim = %v, want returned job %s", job, id)
	}
}

func testReturnPendingJobIsNoop(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	id := enqueue(t, s, "o1", 1)

	if ok, err := s.ReturnToPending(ctx, id); err != nil || ok {
		t.Fatalf("ReturnToPending() on pending = %v, %v, want false", ok, err)
	}
	if ok, err := s.ReturnToPending(ctx, "missing"); err != nil || ok {
		t.Fatalf("ReturnToPending() on missing = %v, %v, want false", ok, err)
	}
}

func testRemoveAnyState(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	pending := enqueue(t, s, "pending", 1)
	assigned := enqueue(t, s, "assigned", 0)
	done := enqueue(t, s, "done", -1)

	claim(t, s, "P1") // done
	claim(t, s, "P2") // assigned
	if ok, _ := s.Complete(ctx, done, "P1"); !ok {
		t.Fatalf("Complete() = false")
	}

	for _, id := range []string{pending, assigned, done} {
		ok, err := s.Remove(ctx, id)
		if err != nil || !ok {
			t.Fatalf("Remove(%s) = %v, %v", id, ok, err)
		}
	}

	if ok, _ := s.Remove(ctx, pending); ok {
		t.Fatalf("Remove() of removed job = true")
	}

	active, _ := s.ListActive(ctx)
	completed, _ := s.ListCompleted(ctx)
	if len(active) != 0 || len(completed) != 0 {
		t.Fatalf("after removes active = %d completed = %d", len(active), len(completed))
	}
}

func testRestartIssuesNewID(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	id := enqueue(t, s, "o1", 7)
	claim(t, s, "P1")

	newID, ok, err := s.Restart(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Restart() = %v, %v", ok, err)
	}
	if newID == "" || newID == id {
		t.Fatalf("Restart() id = %q, want fresh id", newID)
	}

	active, _ := s.ListActive(ctx)
	if len(active) != 1 {
		t.Fatalf("active after restart = %+v", active)
	}
	j := active[0]
	if j.ID != newID || j.State != core.JobStatePending || j.AssignedPrinter != "" {
		t.Fatalf("restarted job = %+v", j)
	}
	if j.FilePath != "/labels/o1.png" || j.Priority != 7 || j.OrderID != "o1" || j.Article != "art-o1" {
		t.Fatalf("restarted job lost fields: %+v", j)
	}

	if ok, _ := s.Complete(ctx, id, "P1"); ok {
		t.Fatalf("Complete() of restarted-away id = true")
	}
}

func testRestartCompletedJob(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	id := enqueue(t, s, "o1", 3)
	claim(t, s, "P1")
	if ok, _ := s.Complete(ctx, id, "P1"); !ok {
		t.Fatalf("Complete() = false")
	}

	newID, ok, err := s.Restart(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Restart() = %v, %v", ok, err)
	}

	completed, _ := s.ListCompleted(ctx)
	for _, j := range completed {
		if j.ID == id {
			t.Fatalf("restarted id still archived")
		}
	}

	job := claim(t, s, "P1")
	if job == nil || job.ID != newID || job.Priority != 3 {
		t.Fatalf("claim after restart = %+v", job)
	}
}

func testRestartMissing(t *testing.T, s core.JobStore) {
	newID, ok, err := s.Restart(context.Background(), "missing")
	if err != nil || ok || newID != "" {
		t.Fatalf("Restart(missing) = %q, %v, %v", newID, ok, err)
	}
}

func testDuplicateID(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	job := core.Job{ID: "fixed", OrderID: "o1", FilePath: "/f.png", Priority: 1}

	if _, err := s.Enqueue(ctx, job); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}
	if _, err := s.Enqueue(ctx, job); !errors.Is(err, core.ErrDuplicateJobID) {
		t.Fatalf("second Enqueue() error = %v, want ErrDuplicateJobID", err)
	}

	claim(t, s, "P1")
	if ok, _ := s.Complete(ctx, "fixed", "P1"); !ok {
		t.Fatalf("Complete() = false")
	}
	if _, err := s.Enqueue(ctx, job); !errors.Is(err, core.ErrDuplicateJobID) {
		t.Fatalf("Enqueue() over archived id error = %v, want ErrDuplicateJobID", err)
	}
}

func testListActiveOrder(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	enqueue(t, s, "c", 3)
	enqueue(t, s, "a", 1)
	enqueue(t, s, "b1", 2)
	enqueue(t, s, "b2", 2)

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}

	want := []string{"a", "b1", "b2", "c"}
	if len(active) != len(want) {
		t.Fatalf("ListActive() = %d jobs, want %d", len(active), len(want))
	}
	for i, order := range want {
		if active[i].OrderID != order {
			t.Fatalf("ListActive()[%d] = %s, want %s", i, active[i].OrderID, order)
		}
	}
}
