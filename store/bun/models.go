package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:delayed_jobs,alias:j"`

	ID                   string     `bun:"id,pk"`
	ActorID              string     `bun:"actor_id,notnull"`
	Queue                string     `bun:"queue,notnull"`
	RunAt                time.Time  `bun:"run_at,notnull"`
	Locked               bool       `bun:"locked,notnull"`
	LockedAt             *time.Time `bun:"locked_at"`
	LockID               *string    `bun:"lock_id"`
	Attempts             int        `bun:"attempts,notnull"`
	Complete             bool       `bun:"complete,notnull"`
	CompletedAt          *time.Time `bun:"completed_at"`
	CompletedWithFailure bool       `bun:"completed_with_failure,notnull"`
	FailureReason        string     `bun:"failure_reason,notnull"`
	LastError            string     `bun:"last_error,notnull"`
	FailedAt             *time.Time `bun:"failed_at"`
	RetryReason          string     `bun:"retry_reason,notnull"`
	CreatedAt            time.Time  `bun:"created_at,notnull"`
	UpdatedAt            time.Time  `bun:"updated_at,notnull"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:                   j.ID.String(),
		ActorID:              j.ActorID,
		Queue:                string(j.Queue),
		RunAt:                j.RunAt,
		Locked:               j.Locked,
		LockedAt:             j.LockedAt,
		Attempts:             j.Attempts,
		Complete:             j.Complete,
		CompletedAt:          j.CompletedAt,
		CompletedWithFailure: j.CompletedWithFailure,
		FailureReason:        j.FailureReason,
		LastError:            j.LastError,
		FailedAt:             j.FailedAt,
		RetryReason:          j.RetryReason,
		CreatedAt:            j.CreatedAt,
		UpdatedAt:            j.UpdatedAt,
	}
	if !j.LockID.IsNil() {
		lock := j.LockID.String()
		m.LockID = &lock
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("delayed/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		ID:                   parsedID,
		ActorID:              m.ActorID,
		Queue:                job.Queue(m.Queue),
		RunAt:                m.RunAt,
		Locked:               m.Locked,
		LockedAt:             m.LockedAt,
		Attempts:             m.Attempts,
		Complete:             m.Complete,
		CompletedAt:          m.CompletedAt,
		CompletedWithFailure: m.CompletedWithFailure,
		FailureReason:        m.FailureReason,
		LastError:            m.LastError,
		FailedAt:             m.FailedAt,
		RetryReason:          m.RetryReason,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}

	if m.LockID != nil && *m.LockID != "" {
		parsedLock, lockErr := id.ParseLockID(*m.LockID)
		if lockErr == nil {
			j.LockID = parsedLock
		}
	}

	return j, nil
}

func fromJobModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
