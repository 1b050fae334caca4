package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

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
	m := toJobModel(j)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delayed_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ActorID, m.Queue, m.RunAt, m.Locked, m.LockedAt, m.LockID, m.Attempts,
		m.Complete, m.CompletedAt, m.CompletedWithFailure, m.FailureReason,
		m.LastError, m.FailedAt, m.RetryReason, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return delayed.ErrJobAlreadyExists
		}
		return fmt.Errorf("delayed/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM delayed_jobs WHERE id = ?`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, delayed.ErrJobNotFound
		}
		return nil, fmt.Errorf("delayed/sqlite: get job: %w", err)
	}
	return j, nil
}

// AcquireJob locks the job with one conditional UPDATE ... RETURNING.
func (s *Store) AcquireJob(ctx context.Context, jobID id.JobID, lockID id.LockID, now time.Time) (*job.Job, bool, error) {
	ts := formatTime(now)
	row := s.db.QueryRowContext(ctx, `
		UPDATE delayed_jobs
		SET locked = 1, locked_at = ?, lock_id = ?, updated_at = ?
		WHERE id = ? AND locked = 0 AND complete = 0
		RETURNING `+jobColumns,
		ts, lockID.String(), ts, jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		// The UPDATE may have committed before the read failed.
		s.abandonLock(ctx, jobID, lockID)
		return nil, false, fmt.Errorf("delayed/sqlite: acquire job: %w", err)
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

	_, err := s.db.ExecContext(ctx, `
		UPDATE delayed_jobs
		SET locked = 0, locked_at = NULL, lock_id = NULL
		WHERE id = ? AND locked = 1 AND lock_id = ? AND complete = 0`,
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
	m := toJobModel(j)
	res, err := s.db.ExecContext(ctx, `
		UPDATE delayed_jobs SET
			run_at = ?, locked = 0, locked_at = NULL, lock_id = NULL,
			attempts = ?, complete = ?, completed_at = ?,
			completed_with_failure = ?, failure_reason = ?,
			last_error = ?, failed_at = ?, retry_reason = ?,
			updated_at = ?
		WHERE id = ? AND locked = 1 AND lock_id = ? AND complete = 0`,
		m.RunAt, m.Attempts, m.Complete, m.CompletedAt,
		m.CompletedWithFailure, m.FailureReason,
		m.LastError, m.FailedAt, m.RetryReason,
		m.UpdatedAt,
		m.ID, lockID.String(),
	)
	if err != nil {
		return fmt.Errorf("delayed/sqlite: release job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delayed/sqlite: release job: %w", err)
	}
	if n == 0 {
		return delayed.ErrLockLost
	}
	return nil
}

// ListEligibleJobs returns up to limit unlocked, incomplete, due jobs
// ordered by RunAt.
func (s *Store) ListEligibleJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM delayed_jobs
		WHERE complete = 0 AND locked = 0 AND run_at <= ?
		ORDER BY run_at ASC, created_at ASC
		LIMIT ?`,
		formatTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("delayed/sqlite: list eligible jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListJobs returns jobs matching opts ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM delayed_jobs WHERE ` + stateClause(opts.State)
	args := []any{}

	if opts.Queue != "" {
		query += " AND queue = ?"
		args = append(args, string(opts.Queue))
	}
	query += " ORDER BY created_at ASC, id ASC"

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("delayed/sqlite: list jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM delayed_jobs WHERE ` + stateClause(opts.State)
	args := []any{}
	if opts.Queue != "" {
		query += " AND queue = ?"
		args = append(args, string(opts.Queue))
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("delayed/sqlite: count jobs: %w", err)
	}
	return count, nil
}

// ReclaimStaleLocks unlocks incomplete jobs locked before cutoff.
func (s *Store) ReclaimStaleLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE delayed_jobs
		SET locked = 0, locked_at = NULL, lock_id = NULL, updated_at = ?
		WHERE locked = 1 AND complete = 0 AND locked_at < ?`,
		formatTime(time.Now()), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("delayed/sqlite: reclaim stale locks: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*job.Job, error) {
	var m jobModel
	if err := row.Scan(m.dest()...); err != nil {
		return nil, err
	}
	return fromJobModel(&m)
}

func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("delayed/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delayed/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// stateClause translates a derived state into a WHERE fragment.
func stateClause(st job.State) string {
	switch st {
	case job.StatePending:
		return "complete = 0 AND locked = 0"
	case job.StateRunning:
		return "complete = 0 AND locked = 1"
	case job.StateDone:
		return "complete = 1 AND completed_with_failure = 0"
	case job.StateFailed:
		return "complete = 1 AND completed_with_failure = 1"
	default:
		return "1 = 1"
	}
}
