// Package redisstore keeps the job store and printer pool in Redis. The API
// and CLI processes may share it, but exactly one dispatcher may drive a
// given prefix: pair supervision lives in that dispatcher's memory.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orrn/printq/internal/core"
)

const maxTxRetries = 100

var errAborted = errors.New("transaction aborted")

// Store implements core.JobStore and core.PoolStore. Every transition runs
// as a WATCH/MULTI transaction and retries when a concurrent writer wins.
type Store struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func Open(ctx context.Context, url, prefix string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return New(rdb, prefix), nil
}

func New(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *Store) Client() *redis.Client {
	return s.rdb
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

func queueMember(seq int64, id string) string {
	return fmt.Sprintf("%020d|%s", seq, id)
}

func memberID(member string) string {
	if i := strings.IndexByte(member, '|'); i >= 0 {
		return member[i+1:]
	}
	return member
}

func (s *Store) Enqueue(ctx context.Context, job core.Job) (string, error) {
	if job.ID == "" {
		job.ID = core.NewJobID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}

	seq, err := s.rdb.Incr(ctx, s.key("seq")).Result()
	if err != nil {
		return "", fmt.Errorf("failed to advance job sequence: %w", err)
	}

	job.State = core.JobStatePending
	job.AssignedPrinter = ""
	job.PrintedOn = ""
	job.CompletedAt = nil
	job.Seq = seq

	err = s.transact(ctx, func(tx *redis.Tx) error {
		if dup, err := s.exists(ctx, tx, job.ID); err != nil {
			return err
		} else if dup {
			return fmt.Errorf("%w: %s", core.ErrDuplicateJobID, job.ID)
		}

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key("jobs"), job.ID, data)
			pipe.ZAdd(ctx, s.key("queue"), redis.Z{Score: float64(job.Priority), Member: queueMember(seq, job.ID)})
			return nil
		})
		return err
	})
	if err != nil {
		return "", err
	}

	return job.ID, nil
}

func (s *Store) ClaimNext(ctx context.Context, printerName string) (*core.Job, error) {
	if printerName == "" {
		return nil, core.ErrInvalidPrinterName
	}

	var claimed *core.Job
	err := s.transact(ctx, func(tx *redis.Tx) error {
		claimed = nil

		head, err := tx.ZRange(ctx, s.key("queue"), 0, 0).Result()
		if err != nil {
			return fmt.Errorf("failed to read queue head: %w", err)
		}
		if len(head) == 0 {
			return nil
		}

		job, err := s.loadJob(ctx, tx, memberID(head[0]))
		if err != nil {
			return err
		}
		if job == nil {
			// Orphaned queue entry; drop it and let the retry look again.
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRem(ctx, s.key("queue"), head[0])
				return nil
			})
			if err == nil {
				err = redis.TxFailedErr
			}
			return err
		}

		now := s.now()
		job.State = core.JobStateAssigned
		job.AssignedPrinter = printerName
		job.Attempts++
		if job.AssignedAt == nil {
			job.AssignedAt = &now
		}

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, s.key("queue"), head[0])
			pipe.HSet(ctx, s.key("jobs"), job.ID, data)
			return nil
		})
		if err != nil {
			return err
		}

		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (s *Store) Complete(ctx context.Context, id, printerName string) (bool, error) {
	var ok bool
	err := s.transact(ctx, func(tx *redis.Tx) error {
		ok = false

		job, err := s.loadJob(ctx, tx, id)
		if err != nil || job == nil {
			return err
		}
		if job.State != core.JobStateAssigned || job.AssignedPrinter != printerName {
			return nil
		}

		now := s.now()
		job.State = core.JobStateCompleted
		job.PrintedOn = printerName
		job.AssignedPrinter = ""
		job.CompletedAt = &now

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, s.key("jobs"), id)
			pipe.HSet(ctx, s.key("completed"), id, data)
			pipe.ZAdd(ctx, s.key("completed:order"), redis.Z{Score: float64(now.UnixNano()), Member: id})
			return nil
		})
		if err != nil {
			return err
		}

		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) ReturnToPending(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.transact(ctx, func(tx *redis.Tx) error {
		ok = false

		job, err := s.loadJob(ctx, tx, id)
		if err != nil || job == nil {
			return err
		}
		if job.State != core.JobStateAssigned {
			return nil
		}

		seq, err := s.rdb.Incr(ctx, s.key("seq")).Result()
		if err != nil {
			return fmt.Errorf("failed to advance job sequence: %w", err)
		}

		job.State = core.JobStatePending
		job.AssignedPrinter = ""
		job.Seq = seq

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key("jobs"), id, data)
			pipe.ZAdd(ctx, s.key("queue"), redis.Z{Score: float64(job.Priority), Member: queueMember(seq, id)})
			return nil
		})
		if err != nil {
			return err
		}

		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.transact(ctx, func(tx *redis.Tx) error {
		ok = false

		job, err := s.loadJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if job != nil {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.unlinkActive(ctx, pipe, job)
				return nil
			})
			ok = err == nil
			return err
		}

		archived, err := tx.HExists(ctx, s.key("completed"), id).Result()
		if err != nil {
			return fmt.Errorf("failed to check archive: %w", err)
		}
		if !archived {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.unlinkCompleted(ctx, pipe, id)
			return nil
		})
		ok = err == nil
		return err
	})
	return ok, err
}

func (s *Store) Restart(ctx context.Context, id string) (string, bool, error) {
	var newID string
	err := s.transact(ctx, func(tx *redis.Tx) error {
		newID = ""

		old, err := s.loadJob(ctx, tx, id)
		if err != nil {
			return err
		}
		archived := false
		if old == nil {
			old, err = s.loadCompleted(ctx, tx, id)
			if err != nil || old == nil {
				return err
			}
			archived = true
		}

		seq, err := s.rdb.Incr(ctx, s.key("seq")).Result()
		if err != nil {
			return fmt.Errorf("failed to advance job sequence: %w", err)
		}

		fresh := core.Job{
			ID:        core.NewJobID(),
			OrderID:   old.OrderID,
			Article:   old.Article,
			FilePath:  old.FilePath,
			Priority:  old.Priority,
			State:     core.JobStatePending,
			Seq:       seq,
			CreatedAt: s.now(),
		}
		data, err := json.Marshal(fresh)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if archived {
				s.unlinkCompleted(ctx, pipe, id)
			} else {
				s.unlinkActive(ctx, pipe, old)
			}
			pipe.HSet(ctx, s.key("jobs"), fresh.ID, data)
			pipe.ZAdd(ctx, s.key("queue"), redis.Z{Score: float64(fresh.Priority), Member: queueMember(seq, fresh.ID)})
			return nil
		})
		if err != nil {
			return err
		}

		newID = fresh.ID
		return nil
	})
	if err != nil {
		return "", false, err
	}

	return newID, newID != "", nil
}

func (s *Store) ListActive(ctx context.Context) ([]core.Job, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key("jobs")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	jobs := make([]core.Job, 0, len(raw))
	for id, data := range raw {
		var j core.Job
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
		}
		jobs = append(jobs, j)
	}
	sortJobs(jobs)

	return jobs, nil
}

func (s *Store) ListCompleted(ctx context.Context) ([]core.Job, error) {
	ids, err := s.rdb.ZRange(ctx, s.key("completed:order"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list completed jobs: %w", err)
	}
	if len(ids) == 0 {
		return []core.Job{}, nil
	}

	values, err := s.rdb.HMGet(ctx, s.key("completed"), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load completed jobs: %w", err)
	}

	jobs := make([]core.Job, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var j core.Job
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return nil, fmt.Errorf("failed to decode completed job %s: %w", ids[i], err)
		}
		jobs = append(jobs, j)
	}

	return jobs, nil
}

// transact runs fn under WATCH on every key the store mutates.
func (s *Store) transact(ctx context.Context, fn func(tx *redis.Tx) error) error {
	keys := []string{s.key("jobs"), s.key("queue"), s.key("completed")}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return fmt.Errorf("%w after %d retries", errAborted, maxTxRetries)
}

func (s *Store) exists(ctx context.Context, tx *redis.Tx, id string) (bool, error) {
	active, err := tx.HExists(ctx, s.key("jobs"), id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check job id: %w", err)
	}
	if active {
		return true, nil
	}
	archived, err := tx.HExists(ctx, s.key("completed"), id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check job id: %w", err)
	}
	return archived, nil
}

func (s *Store) loadJob(ctx context.Context, tx *redis.Tx, id string) (*core.Job, error) {
	return s.load(ctx, tx, s.key("jobs"), id)
}

func (s *Store) loadCompleted(ctx context.Context, tx *redis.Tx, id string) (*core.Job, error) {
	return s.load(ctx, tx, s.key("completed"), id)
}

func (s *Store) load(ctx context.Context, tx *redis.Tx, hash, id string) (*core.Job, error) {
	data, err := tx.HGet(ctx, hash, id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var j core.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &j, nil
}

func (s *Store) unlinkActive(ctx context.Context, pipe redis.Pipeliner, job *core.Job) {
	pipe.HDel(ctx, s.key("jobs"), job.ID)
	if job.State == core.JobStatePending {
		pipe.ZRem(ctx, s.key("queue"), queueMember(job.Seq, job.ID))
	}
}

func (s *Store) unlinkCompleted(ctx context.Context, pipe redis.Pipeliner, id string) {
	pipe.HDel(ctx, s.key("completed"), id)
	pipe.ZRem(ctx, s.key("completed:order"), id)
}

func sortJobs(jobs []core.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].Less(&jobs[k])
	})
}
