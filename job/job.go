package job

import (
	"fmt"
	"time"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/id"
)

// State is the lifecycle state of a job. It is derived from the Locked,
// Complete and CompletedWithFailure flags and is never stored.
type State string

const (
	// StatePending means the job waits for RunAt and an available worker.
	StatePending State = "pending"
	// StateRunning means a worker holds the job's lock.
	StateRunning State = "running"
	// StateDone means the handler succeeded.
	StateDone State = "done"
	// StateFailed means the handler reported a fatal error.
	StateFailed State = "failed"
)

// ParseState parses a state name. The empty string is accepted and means
// "any state" in list and count filters.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case "", StatePending, StateRunning, StateDone, StateFailed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", delayed.ErrInvalidState, s)
	}
}

// Job is one unit of work: run the handler for Queue against ActorID.
//
// Once Complete is true the record is terminal and no field changes again.
type Job struct {
	ID      id.JobID `json:"id"`
	ActorID string   `json:"actor_id"`
	Queue   Queue    `json:"queue"`

	// RunAt is the earliest instant the job may execute.
	RunAt time.Time `json:"run_at"`

	Locked   bool       `json:"locked"`
	LockedAt *time.Time `json:"locked_at,omitempty"`
	LockID   id.LockID  `json:"lock_id,omitempty"`

	Attempts int `json:"attempts"`

	Complete             bool       `json:"complete"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CompletedWithFailure bool       `json:"completed_with_failure"`
	FailureReason        string     `json:"failure_reason,omitempty"`

	LastError   string     `json:"last_error,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	RetryReason string     `json:"retry_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State derives the lifecycle state from the job's flags.
func (j *Job) State() State {
	switch {
	case j.Complete && j.CompletedWithFailure:
		return StateFailed
	case j.Complete:
		return StateDone
	case j.Locked:
		return StateRunning
	default:
		return StatePending
	}
}

// Eligible reports whether the job may be acquired at now.
func (j *Job) Eligible(now time.Time) bool {
	return !j.Complete && !j.Locked && !j.RunAt.After(now)
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	cp.LockedAt = cloneTime(j.LockedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.FailedAt = cloneTime(j.FailedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// New builds a pending job for actorID on q. Callers validate inputs.
func New(actorID string, q Queue, runAt, now time.Time) *Job {
	return &Job{
		ID:        id.NewJobID(),
		ActorID:   actorID,
		Queue:     q,
		RunAt:     runAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
