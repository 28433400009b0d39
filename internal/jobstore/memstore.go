package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aidfleet/aid/pkg/types"
)

// MemStore is an in-memory Store, used by tests and as a reference
// implementation of the Job Store Gateway's conditional-update semantics.
// A single sync.RWMutex guards all state; a job's transition methods are
// the same kind of precondition-checked, single-row mutation that
// PostgresStore expresses in SQL.
type MemStore struct {
	mu   sync.RWMutex
	jobs map[types.JobID]types.Job
}

// NewMemStore builds an empty store, optionally seeded with jobs.
func NewMemStore(seed ...types.Job) *MemStore {
	s := &MemStore{jobs: map[types.JobID]types.Job{}}
	for _, j := range seed {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *MemStore) Ping(ctx context.Context) error { return nil }

func (s *MemStore) Put(j types.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
}

func (s *MemStore) ListUnassigned(ctx context.Context, limit int) ([]types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Job
	for _, j := range s.jobs {
		if j.Status == types.StatusUnassigned {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) ClaimAtomic(ctx context.Context, jobID types.JobID, did types.EncoderDID, now time.Time) (types.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[jobID]
	if !exists || j.Status != types.StatusUnassigned {
		return types.Job{}, false, nil
	}

	j.Status = types.StatusAssigned
	j.AssignedTo = did
	j.AssignedDate = &now
	j.LastPinged = &now
	s.jobs[jobID] = j
	return j, true, nil
}

// UpdateProgress is conditional on ownership and on the job not already
// being complete: completion is terminal, so a stale or malicious update
// after completion must not move the job back out of complete.
func (s *MemStore) UpdateProgress(ctx context.Context, jobID types.JobID, did types.EncoderDID, status types.JobStatus, progress types.JobProgress, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[jobID]
	if !exists || j.AssignedTo != did || j.Status == types.StatusComplete {
		return false, nil
	}

	j.Status = status
	j.Progress = &progress
	j.LastPinged = &now
	s.jobs[jobID] = j
	return true, nil
}

func (s *MemStore) CompleteJob(ctx context.Context, jobID types.JobID, did types.EncoderDID, result types.JobResult, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[jobID]
	if !exists || j.AssignedTo != did {
		return false, nil
	}

	j.Status = types.StatusComplete
	if j.CompletedAt == nil {
		j.CompletedAt = &now
	}
	j.Result = &result
	s.jobs[jobID] = j
	return true, nil
}

func (s *MemStore) GetJob(ctx context.Context, jobID types.JobID) (types.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok, nil
}

func (s *MemStore) ReleaseTimedOut(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, j := range s.jobs {
		if (j.Status == types.StatusAssigned || j.Status == types.StatusRunning) &&
			j.LastPinged != nil && j.LastPinged.Before(cutoff) {
			j.Status = types.StatusUnassigned
			j.AssignedTo = ""
			j.AssignedDate = nil
			j.LastPinged = nil
			s.jobs[id] = j
			count++
		}
	}
	return count, nil
}

func (s *MemStore) RecentlyCompleted(ctx context.Context, hoursBack time.Duration) ([]types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-hoursBack)
	var out []types.Job
	for _, j := range s.jobs {
		if j.Status == types.StatusComplete && j.CompletedAt != nil && !j.CompletedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *MemStore) HealStuckJobs(ctx context.Context, window time.Duration, now time.Time) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	var repaired []types.Job
	for id, j := range s.jobs {
		if j.Result != nil && j.Result.CID != "" && j.Status != types.StatusComplete && !j.CreatedAt.Before(cutoff) {
			j.Status = types.StatusComplete
			j.CompletedAt = &now
			s.jobs[id] = j
			repaired = append(repaired, j)
		}
	}
	return repaired, nil
}

func (s *MemStore) IsFirstAidServiced(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, j := range s.jobs {
		if j.Status == types.StatusComplete {
			count++
		}
	}
	return count == 1, nil
}
