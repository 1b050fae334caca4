package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
	"github.com/xraph/delayed/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
// The mutex plays the role the conditional UPDATE plays in SQL backends.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return delayed.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, delayed.ErrJobNotFound
	}
	return j.Clone(), nil
}

// AcquireJob locks the job if it is neither locked nor complete.
func (m *Store) AcquireJob(_ context.Context, jobID id.JobID, lockID id.LockID, now time.Time) (*job.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok || j.Locked || j.Complete {
		return nil, false, nil
	}
	lockedAt := now
	j.Locked = true
	j.LockedAt = &lockedAt
	j.LockID = lockID
	j.UpdatedAt = now
	return j.Clone(), true, nil
}

// ReleaseJob stores the outcome fields of j and clears the lock.
func (m *Store) ReleaseJob(_ context.Context, j *job.Job, lockID id.LockID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.jobs[j.ID.String()]
	if !ok {
		return delayed.ErrJobNotFound
	}
	if !cur.Locked || cur.Complete || lockID.IsNil() || cur.LockID.String() != lockID.String() {
		return delayed.ErrLockLost
	}

	next := j.Clone()
	next.ActorID = cur.ActorID
	next.Queue = cur.Queue
	next.CreatedAt = cur.CreatedAt
	next.Locked = false
	next.LockedAt = nil
	next.LockID = id.Nil
	m.jobs[j.ID.String()] = next
	return nil
}

// ListEligibleJobs returns up to limit unlocked, incomplete, due jobs
// ordered by RunAt.
func (m *Store) ListEligibleJobs(_ context.Context, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Eligible(now) {
			result = append(result, j.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool {
		if !result[i].RunAt.Equal(result[k].RunAt) {
			return result[i].RunAt.Before(result[k].RunAt)
		}
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListJobs returns jobs matching opts ordered by creation time.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !matches(j, opts.Queue, opts.State) {
			continue
		}
		result = append(result, j.Clone())
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	// Apply offset / limit.
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if matches(j, opts.Queue, opts.State) {
			count++
		}
	}
	return count, nil
}

// ReclaimStaleLocks unlocks incomplete jobs locked before cutoff.
func (m *Store) ReclaimStaleLocks(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var n int64
	for _, j := range m.jobs {
		if !j.Locked || j.Complete || j.LockedAt == nil || !j.LockedAt.Before(cutoff) {
			continue
		}
		j.Locked = false
		j.LockedAt = nil
		j.LockID = id.Nil
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

// Len returns the number of stored jobs.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

func matches(j *job.Job, q job.Queue, state job.State) bool {
	if q != "" && j.Queue != q {
		return false
	}
	if state != "" && j.State() != state {
		return false
	}
	return true
}
