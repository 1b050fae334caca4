package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

// CreateJob stores the job as a Hash and indexes it by creation time and,
// while eligible, by run_at.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()

	args := []any{jID, j.CreatedAt.UnixMilli(), j.RunAt.UnixMilli(), flag(!j.Locked && !j.Complete)}
	args = append(args, jobToArgs(j)...)

	created, err := createScript.Run(ctx, s.client,
		[]string{jobKey(jID), createdKey, eligibleKey}, args...,
	).Int()
	if err != nil {
		return fmt.Errorf("delayed/redis: create job: %w", err)
	}
	if created == 0 {
		return delayed.ErrJobAlreadyExists
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// AcquireJob locks the job and reads it back inside one Lua script, which
// Redis runs atomically.
func (s *Store) AcquireJob(ctx context.Context, jobID id.JobID, lockID id.LockID, now time.Time) (*job.Job, bool, error) {
	jID := jobID.String()

	fields, err := acquireScript.Run(ctx, s.client,
		[]string{jobKey(jID), eligibleKey, lockedKey},
		jID, lockID.String(), formatTime(now), now.UnixMilli(),
	).StringSlice()
	if err != nil {
		// The script may have run before the reply was lost.
		s.abandonLock(ctx, jID, lockID)
		return nil, false, fmt.Errorf("delayed/redis: acquire job: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	j, err := mapToJob(pairsToMap(fields))
	if err != nil {
		s.abandonLock(ctx, jID, lockID)
		return nil, false, err
	}
	return j, true, nil
}

// abandonTimeout bounds the unlock issued after a failed acquire.
const abandonTimeout = 5 * time.Second

// abandonLock clears a lock taken by an AcquireJob that could not return
// the job.
func (s *Store) abandonLock(ctx context.Context, jID string, lockID id.LockID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()

	err := abandonScript.Run(ctx, s.client,
		[]string{jobKey(jID), eligibleKey, lockedKey},
		jID, lockID.String(),
	).Err()
	if err != nil {
		s.logger.Warn("abandon lock failed",
			slog.String("job_id", jID),
			slog.String("error", err.Error()),
		)
	}
}

// ReleaseJob stores the outcome fields of j and clears the lock.
func (s *Store) ReleaseJob(ctx context.Context, j *job.Job, lockID id.LockID) error {
	jID := j.ID.String()

	args := []any{jID, lockID.String(), j.RunAt.UnixMilli(), flag(j.Complete)}
	args = append(args, outcomeArgs(j)...)

	ok, err := releaseScript.Run(ctx, s.client,
		[]string{jobKey(jID), eligibleKey, lockedKey}, args...,
	).Int()
	if err != nil {
		return fmt.Errorf("delayed/redis: release job: %w", err)
	}
	if ok == 0 {
		return delayed.ErrLockLost
	}
	return nil
}

// eligibleOverfetch pads each page read from the eligible index, since a
// few entries in the last millisecond may turn out not to be due.
const eligibleOverfetch = 8

// ListEligibleJobs returns up to limit unlocked, incomplete, due jobs
// ordered by RunAt. The index is read in pages so a sweep only loads about
// limit Hashes however large the backlog is.
func (s *Store) ListEligibleJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	page := int64(0)
	if limit > 0 {
		page = int64(limit + eligibleOverfetch)
	}

	var jobs []*job.Job
	for offset := int64(0); ; offset += page {
		ids, err := s.client.ZRangeByScore(ctx, eligibleKey, &goredis.ZRangeBy{
			Min:    "-inf",
			Max:    strconv.FormatInt(now.UnixMilli(), 10),
			Offset: offset,
			Count:  page,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("delayed/redis: list eligible zrange: %w", err)
		}

		batch, err := s.getJobs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, j := range batch {
			// Scores are millisecond-truncated; the Hash is authoritative.
			if !j.Eligible(now) {
				continue
			}
			jobs = append(jobs, j)
			if limit > 0 && len(jobs) == limit {
				return jobs, nil
			}
		}

		if page == 0 || int64(len(ids)) < page {
			return jobs, nil
		}
	}
}

// ListJobs returns jobs matching opts ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.allJobs(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(all))
	for _, j := range all {
		if opts.State != "" && j.State() != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		jobs = append(jobs, j)
	}

	// Apply offset/limit.
	if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Offset > 0 {
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.State == "" && opts.Queue == "" {
		n, err := s.client.ZCard(ctx, createdKey).Result()
		if err != nil {
			return 0, fmt.Errorf("delayed/redis: count zcard: %w", err)
		}
		return n, nil
	}

	all, err := s.allJobs(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, j := range all {
		if opts.State != "" && j.State() != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// ReclaimStaleLocks unlocks incomplete jobs locked before cutoff.
func (s *Store) ReclaimStaleLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := reclaimScript.Run(ctx, s.client,
		[]string{lockedKey, eligibleKey},
		cutoff.UnixMilli(), jobKeyPrefix, formatTime(time.Now()),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("delayed/redis: reclaim stale locks: %w", err)
	}
	return n, nil
}

// ── helpers ──

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseNullTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}

// jobToArgs flattens every field of j into HSET arguments.
func jobToArgs(j *job.Job) []any {
	lockID := ""
	if !j.LockID.IsNil() {
		lockID = j.LockID.String()
	}
	args := []any{
		"id", j.ID.String(),
		"actor_id", j.ActorID,
		"queue", string(j.Queue),
		"locked", flag(j.Locked),
		"locked_at", formatNullTime(j.LockedAt),
		"lock_id", lockID,
		"created_at", formatTime(j.CreatedAt),
	}
	return append(args, outcomeArgs(j)...)
}

// outcomeArgs flattens the fields a release may change.
func outcomeArgs(j *job.Job) []any {
	return []any{
		"run_at", formatTime(j.RunAt),
		"run_at_ms", strconv.FormatInt(j.RunAt.UnixMilli(), 10),
		"attempts", strconv.Itoa(j.Attempts),
		"complete", flag(j.Complete),
		"completed_at", formatNullTime(j.CompletedAt),
		"completed_with_failure", flag(j.CompletedWithFailure),
		"failure_reason", j.FailureReason,
		"last_error", j.LastError,
		"failed_at", formatNullTime(j.FailedAt),
		"retry_reason", j.RetryReason,
		"updated_at", formatTime(j.UpdatedAt),
	}
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("delayed/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, delayed.ErrJobNotFound
	}
	return mapToJob(vals)
}

// allJobs loads every job in creation order.
func (s *Store) allJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.ZRange(ctx, createdKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("delayed/redis: list jobs zrange: %w", err)
	}
	return s.getJobs(ctx, ids)
}

// getJobs loads jobs by ID in one pipeline, preserving order and skipping
// IDs whose Hash has gone.
func (s *Store) getJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(jID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("delayed/redis: load jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		j, err := mapToJob(vals)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// pairsToMap turns an HGETALL field/value array into a map.
func pairsToMap(fields []string) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		m[fields[i]] = fields[i+1]
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("delayed/redis: parse job id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:                   jID,
		ActorID:              m["actor_id"],
		Queue:                job.Queue(m["queue"]),
		RunAt:                runAt,
		Locked:               m["locked"] == "1",
		LockedAt:             parseNullTime(m["locked_at"]),
		Attempts:             attempts,
		Complete:             m["complete"] == "1",
		CompletedAt:          parseNullTime(m["completed_at"]),
		CompletedWithFailure: m["completed_with_failure"] == "1",
		FailureReason:        m["failure_reason"],
		LastError:            m["last_error"],
		FailedAt:             parseNullTime(m["failed_at"]),
		RetryReason:          m["retry_reason"],
		CreatedAt:            createdAt,
		UpdatedAt:            updatedAt,
	}

	if lid := m["lock_id"]; lid != "" {
		j.LockID, _ = id.ParseLockID(lid) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	return j, nil
}
