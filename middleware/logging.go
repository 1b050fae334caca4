package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/delayed/job"
)

// Logging logs each handler invocation and its outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Debug("job started",
			slog.String("job_id", j.ID.String()),
			slog.String("actor_id", j.ActorID),
			slog.String("queue", j.Queue.String()),
			slog.Int("attempt", j.Attempts+1),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("job attempt failed",
				slog.String("job_id", j.ID.String()),
				slog.String("queue", j.Queue.String()),
				slog.String("outcome", outcome(err)),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("job_id", j.ID.String()),
				slog.String("queue", j.Queue.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
