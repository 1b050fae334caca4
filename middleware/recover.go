package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/delayed/job"
)

// Recover converts a handler panic into a *job.PanicError carrying the
// stack. The attempt then counts as a recoverable failure.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Error("job handler panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("queue", j.Queue.String()),
					slog.Any("panic", r),
					slog.String("stack", string(stack)),
				)
				retErr = &job.PanicError{Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
