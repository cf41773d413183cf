package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryJobStore keeps jobs in a mutex-guarded slice ordered by priority and
// insertion sequence. It does not survive a restart.
type MemoryJobStore struct {
	mu        sync.Mutex
	active    []*Job
	completed []*Job
	seq       int64
	now       func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{now: time.Now}
}

func (s *MemoryJobStore) Enqueue(ctx context.Context, job Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = NewJobID()
	}
	if s.indexActive(job.ID) >= 0 || s.indexCompleted(job.ID) >= 0 {
		return "", fmt.Errorf("%w: %s", ErrDuplicateJobID, job.ID)
	}

	s.seq++
	j := job
	j.State = JobStatePending
	j.AssignedPrinter = ""
	j.PrintedOn = ""
	j.Seq = s.seq
	j.CompletedAt = nil
	if j.CreatedAt.IsZero() {
		j.CreatedAt = s.now()
	}
	s.insert(&j)

	return j.ID, nil
}

func (s *MemoryJobStore) ClaimNext(ctx context.Context, printerName string) (*Job, error) {
	if printerName == "" {
		return nil, ErrInvalidPrinterName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.active {
		if j.State != JobStatePending {
			continue
		}
		j.State = JobStateAssigned
		j.AssignedPrinter = printerName
		j.Attempts++
		if j.AssignedAt == nil {
			now := s.now()
			j.AssignedAt = &now
		}
		claimed := *j
		return &claimed, nil
	}

	return nil, nil
}

func (s *MemoryJobStore) Complete(ctx context.Context, id, printerName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexActive(id)
	if i < 0 {
		return false, nil
	}
	j := s.active[i]
	if j.State != JobStateAssigned || j.AssignedPrinter != printerName {
		return false, nil
	}

	s.active = append(s.active[:i], s.active[i+1:]...)
	now := s.now()
	j.State = JobStateCompleted
	j.PrintedOn = printerName
	j.AssignedPrinter = ""
	j.CompletedAt = &now
	s.completed = append(s.completed, j)

	return true, nil
}

func (s *MemoryJobStore) ReturnToPending(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexActive(id)
	if i < 0 || s.active[i].State != JobStateAssigned {
		return false, nil
	}

	j := s.active[i]
	s.active = append(s.active[:i], s.active[i+1:]...)
	s.seq++
	j.State = JobStatePending
	j.AssignedPrinter = ""
	j.Seq = s.seq
	s.insert(j)

	return true, nil
}

func (s *MemoryJobStore) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.take(id)
	return ok, nil
}

func (s *MemoryJobStore) Restart(ctx context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.take(id)
	if !ok {
		return "", false, nil
	}

	s.seq++
	j := &Job{
		ID:        NewJobID(),
		OrderID:   old.OrderID,
		Article:   old.Article,
		FilePath:  old.FilePath,
		Priority:  old.Priority,
		State:     JobStatePending,
		Seq:       s.seq,
		CreatedAt: s.now(),
	}
	s.insert(j)

	return j.ID, true, nil
}

func (s *MemoryJobStore) ListActive(ctx context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.active))
	for _, j := range s.active {
		jobs = append(jobs, *j)
	}
	return jobs, nil
}

func (s *MemoryJobStore) ListCompleted(ctx context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.completed))
	for _, j := range s.completed {
		jobs = append(jobs, *j)
	}
	return jobs, nil
}

func (s *MemoryJobStore) insert(j *Job) {
	i := sort.Search(len(s.active), func(i int) bool {
		return j.Less(s.active[i])
	})
	s.active = append(s.active, nil)
	copy(s.active[i+1:], s.active[i:])
	s.active[i] = j
}

// take removes id from either collection.
func (s *MemoryJobStore) take(id string) (*Job, bool) {
	if i := s.indexActive(id); i >= 0 {
		j := s.active[i]
		s.active = append(s.active[:i], s.active[i+1:]...)
		return j, true
	}
	if i := s.indexCompleted(id); i >= 0 {
		j := s.completed[i]
		s.completed = append(s.completed[:i], s.completed[i+1:]...)
		return j, true
	}
	return nil, false
}

func (s *MemoryJobStore) indexActive(id string) int {
	for i, j := range s.active {
		if j.ID == id {
			return i
		}
	}
	return -1
}

func (s *MemoryJobStore) indexCompleted(id string) int {
	for i, j := range s.completed {
		if j.ID == id {
			return i
		}
	}
	return -1
}
