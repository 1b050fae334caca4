package job

import (
	"context"
	"time"

	"github.com/xraph/delayed/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// State filters by derived state. Empty means all states.
	State State
	// Queue filters by queue. Empty means all queues.
	Queue Queue
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue. Empty means all queues.
	Queue Queue
	// State filters by derived state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs.
type Store interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// AcquireJob atomically locks the job if it is neither locked nor
	// complete, stamping LockedAt with now and LockID with lockID. It
	// returns the locked job and true on success. When another holder owns
	// the job or it is complete, it returns nil, false and a nil error.
	AcquireJob(ctx context.Context, jobID id.JobID, lockID id.LockID, now time.Time) (*Job, bool, error)

	// ReleaseJob persists the outcome fields of j and clears the lock,
	// provided the lock is still held by lockID and the job is not complete.
	// It returns delayed.ErrLockLost otherwise.
	ReleaseJob(ctx context.Context, j *Job, lockID id.LockID) error

	// ListEligibleJobs returns up to limit unlocked, incomplete jobs with
	// RunAt <= now, ordered by RunAt ascending.
	ListEligibleJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// ListJobs returns jobs matching opts ordered by creation time.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// ReclaimStaleLocks unlocks incomplete jobs locked before cutoff and
	// returns how many were unlocked. Attempts are left untouched.
	ReclaimStaleLocks(ctx context.Context, cutoff time.Time) (int64, error)
}
