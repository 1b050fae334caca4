package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

// timeLayout is fixed width so lexical comparison matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil //nolint:nilnil // NULL column
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableID(i id.ID) sql.NullString {
	if i.IsNil() {
		return sql.NullString{}
	}
	return sql.NullString{String: i.String(), Valid: true}
}

// jobModel is the row shape of delayed_jobs.
type jobModel struct {
	ID                   string
	ActorID              string
	Queue                string
	RunAt                string
	Locked               bool
	LockedAt             sql.NullString
	LockID               sql.NullString
	Attempts             int
	Complete             bool
	CompletedAt          sql.NullString
	CompletedWithFailure bool
	FailureReason        string
	LastError            string
	FailedAt             sql.NullString
	RetryReason          string
	CreatedAt            string
	UpdatedAt            string
}

// dest returns scan targets in jobColumns order.
func (m *jobModel) dest() []any {
	return []any{
		&m.ID, &m.ActorID, &m.Queue, &m.RunAt, &m.Locked, &m.LockedAt, &m.LockID, &m.Attempts,
		&m.Complete, &m.CompletedAt, &m.CompletedWithFailure, &m.FailureReason,
		&m.LastError, &m.FailedAt, &m.RetryReason, &m.CreatedAt, &m.UpdatedAt,
	}
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:                   j.ID.String(),
		ActorID:              j.ActorID,
		Queue:                string(j.Queue),
		RunAt:                formatTime(j.RunAt),
		Locked:               j.Locked,
		LockedAt:             formatNullTime(j.LockedAt),
		LockID:               nullableID(j.LockID),
		Attempts:             j.Attempts,
		Complete:             j.Complete,
		CompletedAt:          formatNullTime(j.CompletedAt),
		CompletedWithFailure: j.CompletedWithFailure,
		FailureReason:        j.FailureReason,
		LastError:            j.LastError,
		FailedAt:             formatNullTime(j.FailedAt),
		RetryReason:          j.RetryReason,
		CreatedAt:            formatTime(j.CreatedAt),
		UpdatedAt:            formatTime(j.UpdatedAt),
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("delayed/sqlite: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		ID:                   parsedID,
		ActorID:              m.ActorID,
		Queue:                job.Queue(m.Queue),
		Locked:               m.Locked,
		Attempts:             m.Attempts,
		Complete:             m.Complete,
		CompletedWithFailure: m.CompletedWithFailure,
		FailureReason:        m.FailureReason,
		LastError:            m.LastError,
		RetryReason:          m.RetryReason,
	}

	if m.LockID.Valid && m.LockID.String != "" {
		if parsedLock, lockErr := id.ParseLockID(m.LockID.String); lockErr == nil {
			j.LockID = parsedLock
		}
	}

	for _, f := range []struct {
		src string
		dst *time.Time
	}{
		{m.RunAt, &j.RunAt},
		{m.CreatedAt, &j.CreatedAt},
		{m.UpdatedAt, &j.UpdatedAt},
	} {
		t, perr := parseTime(f.src)
		if perr != nil {
			return nil, fmt.Errorf("delayed/sqlite: parse time %q: %w", f.src, perr)
		}
		*f.dst = t
	}

	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{m.LockedAt, &j.LockedAt},
		{m.CompletedAt, &j.CompletedAt},
		{m.FailedAt, &j.FailedAt},
	} {
		t, perr := parseNullTime(f.src)
		if perr != nil {
			return nil, fmt.Errorf("delayed/sqlite: parse time %q: %w", f.src.String, perr)
		}
		*f.dst = t
	}

	return j, nil
}
