package bunstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return delayed.ErrJobAlreadyExists
		}
		return fmt.Errorf("delayed/bun: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, delayed.ErrJobNotFound
		}
		return nil, fmt.Errorf("delayed/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// AcquireJob locks the job with a conditional UPDATE ... RETURNING via raw
// SQL. No row returned means another holder owns it or it is complete.
func (s *Store) AcquireJob(ctx context.Context, jobID id.JobID, lockID id.LockID, now time.Time) (*job.Job, bool, error) {
	m := new(jobModel)
	err := s.db.NewRaw(`
		UPDATE delayed_jobs
		SET locked = TRUE, locked_at = ?0, lock_id = ?1, updated_at = ?0
		WHERE id = ?2 AND NOT locked AND NOT complete
		RETURNING *`,
		now, lockID.String(), jobID.String(),
	).Scan(ctx, m)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		s.abandonLock(ctx, jobID, lockID)
		return nil, false, fmt.Errorf("delayed/bun: acquire job: %w", err)
	}
	j, err := fromJobModel(m)
	if err != nil {
		s.abandonLock(ctx, jobID, lockID)
		return nil, false, err
	}
	return j, true, nil
}

// abandonTimeout bounds the unlock issued after a failed acquire.
const abandonTimeout = 5 * time.Second

// abandonLock clears a lock taken by an AcquireJob that could not return
// the job. It only touches the row while lockID still holds it.
func (s *Store) abandonLock(ctx context.Context, jobID id.JobID, lockID id.LockID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()

	_, err := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("locked = FALSE").
		Set("locked_at = NULL").
		Set("lock_id = NULL").
		Where("id = ?", jobID.String()).
		Where("locked").
		Where("lock_id = ?", lockID.String()).
		Where("NOT complete").
		Exec(ctx)
	if err != nil {
		s.logger.Warn("abandon lock failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ReleaseJob stores the outcome fields of j and clears the lock.
func (s *Store) ReleaseJob(ctx context.Context, j *job.Job, lockID id.LockID) error {
	res, err := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("run_at = ?", j.RunAt).
		Set("locked = FALSE").
		Set("locked_at = NULL").
		Set("lock_id = NULL").
		Set("attempts = ?", j.Attempts).
		Set("complete = ?", j.Complete).
		Set("completed_at = ?", j.CompletedAt).
		Set("completed_with_failure = ?", j.CompletedWithFailure).
		Set("failure_reason = ?", j.FailureReason).
		Set("last_error = ?", j.LastError).
		Set("failed_at = ?", j.FailedAt).
		Set("retry_reason = ?", j.RetryReason).
		Set("updated_at = ?", j.UpdatedAt).
		Where("id = ?", j.ID.String()).
		Where("locked").
		Where("lock_id = ?", lockID.String()).
		Where("NOT complete").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delayed/bun: release job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return delayed.ErrLockLost
	}
	return nil
}

// ListEligibleJobs returns up to limit unlocked, incomplete, due jobs
// ordered by RunAt.
func (s *Store) ListEligibleJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("NOT complete").
		Where("NOT locked").
		Where("run_at <= ?", now).
		Order("run_at ASC", "created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("delayed/bun: list eligible jobs: %w", err)
	}
	return fromJobModels(models)
}

// ListJobs returns jobs matching opts ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)
	q = applyFilters(q, opts.Queue, opts.State).Order("created_at ASC", "id ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("delayed/bun: list jobs: %w", err)
	}
	return fromJobModels(models)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*jobModel)(nil))
	q = applyFilters(q, opts.Queue, opts.State)

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("delayed/bun: count jobs: %w", err)
	}
	return int64(count), nil
}

// ReclaimStaleLocks unlocks incomplete jobs locked before cutoff.
func (s *Store) ReclaimStaleLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("locked = FALSE").
		Set("locked_at = NULL").
		Set("lock_id = NULL").
		Set("updated_at = NOW()").
		Where("locked").
		Where("NOT complete").
		Where("locked_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delayed/bun: reclaim stale locks: %w", err)
	}
	return res.RowsAffected()
}

// applyFilters narrows q by queue and derived state.
func applyFilters(q *bun.SelectQuery, queue job.Queue, state job.State) *bun.SelectQuery {
	if queue != "" {
		q = q.Where("queue = ?", string(queue))
	}
	switch state {
	case job.StatePending:
		q = q.Where("NOT complete").Where("NOT locked")
	case job.StateRunning:
		q = q.Where("NOT complete").Where("locked")
	case job.StateDone:
		q = q.Where("complete").Where("NOT completed_with_failure")
	case job.StateFailed:
		q = q.Where("complete").Where("completed_with_failure")
	}
	return q
}
