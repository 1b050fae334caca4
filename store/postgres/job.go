package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

const jobColumns = `
	id, actor_id, queue, run_at, locked, locked_at, lock_id, attempts,
	complete, completed_at, completed_with_failure, failure_reason,
	last_error, failed_at, retry_reason, created_at, updated_at`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delayed_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)`,
		j.ID.String(), j.ActorID, string(j.Queue), j.RunAt, j.Locked, j.LockedAt, nullableID(j.LockID), j.Attempts,
		j.Complete, j.CompletedAt, j.CompletedWithFailure, j.FailureReason,
		j.LastError, j.FailedAt, j.RetryReason, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		// Check for unique violation (duplicate ID).
		if isDuplicateKey(err) {
			return delayed.ErrJobAlreadyExists
		}
		return fmt.Errorf("delayed/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM delayed_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, delayed.ErrJobNotFound
		}
		return nil, fmt.Errorf("delayed/postgres: get job: %w", err)
	}
	return j, nil
}

// AcquireJob locks the job with a single conditional UPDATE. No row
// returned means another holder owns it or it is complete.
func (s *Store) AcquireJob(ctx context.Context, jobID id.JobID, lockID id.LockID, now time.Time) (*job.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE delayed_jobs
		SET locked = TRUE, locked_at = $3, lock_id = $2, updated_at = $3
		WHERE id = $1 AND NOT locked AND NOT complete
		RETURNING `+jobColumns,
		jobID.String(), lockID.String(), now,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		// The UPDATE may have committed before the read failed.
		s.abandonLock(ctx, jobID, lockID)
		return nil, false, fmt.Errorf("delayed/postgres: acquire job: %w", err)
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

	_, err := s.pool.Exec(ctx, `
		UPDATE delayed_jobs
		SET locked = FALSE, locked_at = NULL, lock_id = NULL
		WHERE id = $1 AND locked AND lock_id = $2 AND NOT complete`,
		jobID.String(), lockID.String(),
	)
	if err != nil {
		s.logger.Warn("abandon lock failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ReleaseJob stores the outcome fields of j and clears the lock.
func (s *Store) ReleaseJob(ctx context.Context, j *job.Job, lockID id.LockID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE delayed_jobs SET
			run_at = $3, locked = FALSE, locked_at = NULL, lock_id = NULL,
			attempts = $4, complete = $5, completed_at = $6,
			completed_with_failure = $7, failure_reason = $8,
			last_error = $9, failed_at = $10, retry_reason = $11,
			updated_at = $12
		WHERE id = $1 AND locked AND lock_id = $2 AND NOT complete`,
		j.ID.String(), lockID.String(),
		j.RunAt, j.Attempts, j.Complete, j.CompletedAt,
		j.CompletedWithFailure, j.FailureReason,
		j.LastError, j.FailedAt, j.RetryReason,
		j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("delayed/postgres: release job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return delayed.ErrLockLost
	}
	return nil
}

// ListEligibleJobs returns up to limit unlocked, incomplete, due jobs
// ordered by RunAt.
func (s *Store) ListEligibleJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM delayed_jobs
		WHERE NOT complete AND NOT locked AND run_at <= $1
		ORDER BY run_at ASC, created_at ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("delayed/postgres: list eligible jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListJobs returns jobs matching opts ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM delayed_jobs WHERE ` + stateClause(opts.State)
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, string(opts.Queue))
		argIdx++
	}

	query += " ORDER BY created_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("delayed/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM delayed_jobs WHERE ` + stateClause(opts.State)
	args := []any{}

	if opts.Queue != "" {
		query += " AND queue = $1"
		args = append(args, string(opts.Queue))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("delayed/postgres: count jobs: %w", err)
	}
	return count, nil
}

// ReclaimStaleLocks unlocks incomplete jobs locked before cutoff.
func (s *Store) ReclaimStaleLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE delayed_jobs
		SET locked = FALSE, locked_at = NULL, lock_id = NULL, updated_at = NOW()
		WHERE locked AND NOT complete AND locked_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delayed/postgres: reclaim stale locks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j        job.Job
		idStr    string
		queueStr string
		lockStr  *string
	)
	err := row.Scan(
		&idStr, &j.ActorID, &queueStr, &j.RunAt, &j.Locked, &j.LockedAt, &lockStr, &j.Attempts,
		&j.Complete, &j.CompletedAt, &j.CompletedWithFailure, &j.FailureReason,
		&j.LastError, &j.FailedAt, &j.RetryReason, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("delayed/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID
	j.Queue = job.Queue(queueStr)

	if lockStr != nil && *lockStr != "" {
		parsedLock, lockErr := id.ParseLockID(*lockStr)
		if lockErr == nil {
			j.LockID = parsedLock
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("delayed/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delayed/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

// nullableID maps the nil ID to SQL NULL.
func nullableID(i id.ID) *string {
	if i.IsNil() {
		return nil
	}
	s := i.String()
	return &s
}
