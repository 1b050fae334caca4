package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID                   string     `bson:"_id"`
	ActorID              string     `bson:"actor_id"`
	Queue                string     `bson:"queue"`
	RunAt                time.Time  `bson:"run_at"`
	Locked               bool       `bson:"locked"`
	LockedAt             *time.Time `bson:"locked_at"`
	LockID               string     `bson:"lock_id"`
	Attempts             int        `bson:"attempts"`
	Complete             bool       `bson:"complete"`
	CompletedAt          *time.Time `bson:"completed_at"`
	CompletedWithFailure bool       `bson:"completed_with_failure"`
	FailureReason        string     `bson:"failure_reason"`
	LastError            string     `bson:"last_error"`
	FailedAt             *time.Time `bson:"failed_at"`
	RetryReason          string     `bson:"retry_reason"`
	CreatedAt            time.Time  `bson:"created_at"`
	UpdatedAt            time.Time  `bson:"updated_at"`
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
		m.LockID = j.LockID.String()
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("delayed/mongo: parse job id %q: %w", m.ID, err)
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

	if m.LockID != "" {
		parsedLock, lockErr := id.ParseLockID(m.LockID)
		if lockErr == nil {
			j.LockID = parsedLock
		}
	}

	return j, nil
}
