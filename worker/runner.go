// Package worker runs jobs. A Runner performs one guarded execution
// attempt; a Pool hosts the two producers of attempts: the signal consumer
// (push) and the cron-driven sweep (pull).
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/delayed/backoff"
	"github.com/xraph/delayed/ext"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
	"github.com/xraph/delayed/middleware"
)

// tracerName is the instrumentation scope name for runner spans.
const tracerName = "github.com/xraph/delayed/worker"

// Outcome describes what one call to Runner.Run did.
type Outcome string

const (
	// OutcomeSkipped means the job was locked, complete or missing. Nothing
	// changed.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeNotDue means the job was acquired before its RunAt and released
	// unchanged.
	OutcomeNotDue Outcome = "not_due"
	// OutcomeNoHandler means no handler is registered for the job's queue.
	// The job was released unchanged and stays pending.
	OutcomeNoHandler Outcome = "no_handler"
	// OutcomeCompleted means the handler succeeded.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRetrying means the handler failed recoverably and RunAt moved
	// forward.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeFailed means the handler failed fatally.
	OutcomeFailed Outcome = "failed"
)

// Attempted reports whether the outcome consumed an attempt.
func (o Outcome) Attempted() bool {
	switch o {
	case OutcomeCompleted, OutcomeRetrying, OutcomeFailed:
		return true
	default:
		return false
	}
}

// Runner executes single attempts of jobs.
type Runner struct {
	store      job.Store
	registry   *job.Registry
	extensions *ext.Registry
	backoff    backoff.Strategy
	mw         middleware.Middleware
	tracer     trace.Tracer
	now        func() time.Time
	logger     *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBackoff sets the retry strategy. The default is backoff.NewQuartic().
func WithBackoff(s backoff.Strategy) RunnerOption {
	return func(r *Runner) { r.backoff = s }
}

// WithMiddleware sets the middleware around handler calls.
func WithMiddleware(mws ...middleware.Middleware) RunnerOption {
	return func(r *Runner) { r.mw = middleware.Chain(mws...) }
}

// WithExtensions sets the registry notified of lifecycle events.
func WithExtensions(e *ext.Registry) RunnerOption {
	return func(r *Runner) { r.extensions = e }
}

// WithTracer sets the tracer for the acquire and run spans.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithClock overrides time.Now. Tests use it to pin "now".
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner over store and registry.
func NewRunner(store job.Store, registry *job.Registry, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:    store,
		registry: registry,
		backoff:  backoff.NewQuartic(),
		mw:       middleware.Chain(),
		tracer:   otel.Tracer(tracerName),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.extensions == nil {
		r.extensions = ext.NewRegistry(logger)
	}
	return r
}

// Run performs one attempt of jobID. It is safe to call concurrently for
// the same job from any number of goroutines or processes: the store's
// conditional acquire lets exactly one caller through, the others get
// OutcomeSkipped.
//
// The returned error is always a store error. Handler failures are recorded
// on the job and reported through the Outcome.
func (r *Runner) Run(ctx context.Context, jobID id.JobID) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "delayed.job.run",
		trace.WithAttributes(attribute.String("delayed.job.id", jobID.String())),
	)
	defer span.End()

	lockID := id.NewLockID()
	j, ok, err := r.acquire(ctx, jobID, lockID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if !ok {
		span.SetAttributes(attribute.String("delayed.outcome", string(OutcomeSkipped)))
		return OutcomeSkipped, nil
	}
	span.SetAttributes(
		attribute.String("delayed.actor_id", j.ActorID),
		attribute.String("delayed.queue", j.Queue.String()),
	)

	outcome, err := r.attempt(ctx, j, lockID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcome, err
	}
	span.SetAttributes(attribute.String("delayed.outcome", string(outcome)))
	return outcome, nil
}

func (r *Runner) acquire(ctx context.Context, jobID id.JobID, lockID id.LockID) (*job.Job, bool, error) {
	ctx, span := r.tracer.Start(ctx, "delayed.job.acquire")
	defer span.End()

	j, ok, err := r.store.AcquireJob(ctx, jobID, lockID, r.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("acquire job %s: %w", jobID, err)
	}
	span.SetAttributes(attribute.Bool("delayed.acquired", ok))
	return j, ok, nil
}

// attempt runs the body of one attempt on a job whose lock is held. Every
// path ends in release.
func (r *Runner) attempt(ctx context.Context, j *job.Job, lockID id.LockID) (Outcome, error) {
	now := r.now()
	if j.RunAt.After(now) {
		return OutcomeNotDue, r.release(ctx, j, lockID)
	}

	h, ok := r.registry.Get(j.Queue)
	if !ok {
		r.logger.Error("no handler registered for queue",
			slog.String("job_id", j.ID.String()),
			slog.String("actor_id", j.ActorID),
			slog.String("queue", j.Queue.String()),
		)
		r.extensions.EmitJobUnhandled(ctx, j)
		return OutcomeNoHandler, r.release(ctx, j, lockID)
	}

	r.extensions.EmitJobStarted(ctx, j)

	start := time.Now()
	handlerErr := r.invoke(ctx, j, h)
	elapsed := time.Since(start)

	now = r.now()
	j.UpdatedAt = now
	j.Attempts++

	if handlerErr == nil {
		j.Complete = true
		j.CompletedAt = &now
		if err := r.release(ctx, j, lockID); err != nil {
			return OutcomeCompleted, err
		}
		r.extensions.EmitJobCompleted(ctx, j, elapsed)
		return OutcomeCompleted, nil
	}

	trace.SpanFromContext(ctx).RecordError(handlerErr)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, handlerErr.Error())

	j.LastError = job.Trace(handlerErr)
	j.FailedAt = &now

	if job.IsFatal(handlerErr) {
		// CompletedAt marks success only; FailedAt dates a failed job.
		j.Complete = true
		j.CompletedWithFailure = true
		j.FailureReason = job.ReasonOf(handlerErr)
		if err := r.release(ctx, j, lockID); err != nil {
			return OutcomeFailed, err
		}
		r.logger.Warn("job failed permanently",
			slog.String("job_id", j.ID.String()),
			slog.String("actor_id", j.ActorID),
			slog.String("queue", j.Queue.String()),
			slog.Int("attempts", j.Attempts),
			slog.String("reason", j.FailureReason),
		)
		r.extensions.EmitJobFailed(ctx, j, handlerErr)
		return OutcomeFailed, nil
	}

	delay := r.backoff.Delay(j.Attempts)
	j.RunAt = now.Add(delay)
	j.RetryReason = job.ReasonOf(handlerErr)
	if err := r.release(ctx, j, lockID); err != nil {
		return OutcomeRetrying, err
	}
	r.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("actor_id", j.ActorID),
		slog.String("queue", j.Queue.String()),
		slog.Int("attempts", j.Attempts),
		slog.Duration("delay", delay),
		slog.String("error", handlerErr.Error()),
	)
	r.extensions.EmitJobRetrying(ctx, j, handlerErr)
	return OutcomeRetrying, nil
}

// invoke calls the handler through the middleware chain. A panic anywhere
// in the chain becomes a *job.PanicError so the lock is still released.
func (r *Runner) invoke(ctx context.Context, j *job.Job, h job.Handler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &job.PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return r.mw(ctx, j.Clone(), func(ctx context.Context) error {
		return h.Run(ctx, j.ActorID)
	})
}

// release clears the lock and persists j. Persistence must survive the
// caller giving up, so it runs on a context without cancellation.
func (r *Runner) release(ctx context.Context, j *job.Job, lockID id.LockID) error {
	j.Locked = false
	j.LockedAt = nil
	j.LockID = id.Nil

	if err := r.store.ReleaseJob(context.WithoutCancel(ctx), j, lockID); err != nil {
		r.logger.Error("failed to release job",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("release job %s: %w", j.ID, err)
	}
	return nil
}
