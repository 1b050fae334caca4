package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.jobs().InsertOne(ctx, toJobModel(j))
	if err != nil {
		if isDuplicateKey(err) {
			return delayed.ErrJobAlreadyExists
		}
		return fmt.Errorf("delayed/mongo: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, delayed.ErrJobNotFound
		}
		return nil, fmt.Errorf("delayed/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// AcquireJob locks the job with FindOneAndUpdate, which MongoDB applies
// atomically to a single document.
func (s *Store) AcquireJob(ctx context.Context, jobID id.JobID, lockID id.LockID, now time.Time) (*job.Job, bool, error) {
	filter := bson.M{
		"_id":      jobID.String(),
		"locked":   false,
		"complete": false,
	}
	update := bson.M{
		"$set": bson.M{
			"locked":     true,
			"locked_at":  now,
			"lock_id":    lockID.String(),
			"updated_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.jobs().FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, false, nil
		}
		// The update may have been applied before the reply was lost.
		s.abandonLock(ctx, jobID, lockID)
		return nil, false, fmt.Errorf("delayed/mongo: acquire job: %w", err)
	}

	j, err := fromJobModel(&m)
	if err != nil {
		s.abandonLock(ctx, jobID, lockID)
		return nil, false, err
	}
	return j, true, nil
}

// abandonTimeout bounds the unlock issued after a failed acquire.
const abandonTimeout = 5 * time.Second

// abandonLock clears a lock taken by an AcquireJob that could not return
// the job. It only touches the document while lockID still holds it.
func (s *Store) abandonLock(ctx context.Context, jobID id.JobID, lockID id.LockID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()

	filter := bson.M{
		"_id":      jobID.String(),
		"locked":   true,
		"lock_id":  lockID.String(),
		"complete": false,
	}
	update := bson.M{
		"$set": bson.M{
			"locked":    false,
			"locked_at": nil,
			"lock_id":   "",
		},
	}
	if _, err := s.jobs().UpdateOne(ctx, filter, update); err != nil {
		s.logger.Warn("abandon lock failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ReleaseJob stores the outcome fields of j and clears the lock.
func (s *Store) ReleaseJob(ctx context.Context, j *job.Job, lockID id.LockID) error {
	filter := bson.M{
		"_id":      j.ID.String(),
		"locked":   true,
		"lock_id":  lockID.String(),
		"complete": false,
	}
	update := bson.M{
		"$set": bson.M{
			"run_at":                 j.RunAt,
			"locked":                 false,
			"locked_at":              nil,
			"lock_id":                "",
			"attempts":               j.Attempts,
			"complete":               j.Complete,
			"completed_at":           j.CompletedAt,
			"completed_with_failure": j.CompletedWithFailure,
			"failure_reason":         j.FailureReason,
			"last_error":             j.LastError,
			"failed_at":              j.FailedAt,
			"retry_reason":           j.RetryReason,
			"updated_at":             j.UpdatedAt,
		},
	}

	res, err := s.jobs().UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("delayed/mongo: release job: %w", err)
	}
	if res.MatchedCount == 0 {
		return delayed.ErrLockLost
	}
	return nil
}

// ListEligibleJobs returns up to limit unlocked, incomplete, due jobs
// ordered by RunAt.
func (s *Store) ListEligibleJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	filter := bson.M{
		"complete": false,
		"locked":   false,
		"run_at":   bson.M{"$lte": now},
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "run_at", Value: 1},
		{Key: "created_at", Value: 1},
	})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, filter, opts, "list eligible jobs")
}

// ListJobs returns jobs matching opts ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	return s.find(ctx, jobFilter(opts.Queue, opts.State), findOpts, "list jobs")
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	count, err := s.jobs().CountDocuments(ctx, jobFilter(opts.Queue, opts.State))
	if err != nil {
		return 0, fmt.Errorf("delayed/mongo: count jobs: %w", err)
	}
	return count, nil
}

// ReclaimStaleLocks unlocks incomplete jobs locked before cutoff.
func (s *Store) ReclaimStaleLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"locked":    true,
		"complete":  false,
		"locked_at": bson.M{"$lt": cutoff},
	}
	update := bson.M{
		"$set": bson.M{
			"locked":     false,
			"locked_at":  nil,
			"lock_id":    "",
			"updated_at": time.Now().UTC(),
		},
	}

	res, err := s.jobs().UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("delayed/mongo: reclaim stale locks: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder, op string) ([]*job.Job, error) {
	cursor, err := s.jobs().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("delayed/mongo: %s: %w", op, err)
	}

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("delayed/mongo: %s decode: %w", op, err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// jobFilter narrows by queue and derived state.
func jobFilter(queue job.Queue, state job.State) bson.M {
	filter := bson.M{}
	if queue != "" {
		filter["queue"] = string(queue)
	}
	switch state {
	case job.StatePending:
		filter["complete"] = false
		filter["locked"] = false
	case job.StateRunning:
		filter["complete"] = false
		filter["locked"] = true
	case job.StateDone:
		filter["complete"] = true
		filter["completed_with_failure"] = false
	case job.StateFailed:
		filter["complete"] = true
		filter["completed_with_failure"] = true
	}
	return filter
}
