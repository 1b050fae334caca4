// Package ext defines the extension system. Extensions are notified of job
// lifecycle events and react to them (metrics, live streams, audit logs).
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/delayed/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobCreated is called after a job is persisted by Create.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *job.Job) error
}

// JobStarted is called after the lock is acquired and right before the
// handler runs.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a successful attempt is persisted.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called after a recoverable failure is persisted. j.RunAt
// holds the next eligible instant.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, err error) error
}

// JobFailed is called after a fatal failure is persisted.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobUnhandled is called when a job was acquired but its queue has no
// registered handler. The job is left pending.
type JobUnhandled interface {
	OnJobUnhandled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// SweepCompleted is called after each sweep with the number of jobs it
// dispatched.
type SweepCompleted interface {
	OnSweepCompleted(ctx context.Context, dispatched int, elapsed time.Duration) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
