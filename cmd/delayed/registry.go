package main

import (
	"context"
	"log/slog"

	"github.com/xraph/delayed/job"
)

// demoRegistry handles every queue by logging the actor. Real deployments
// embed the engine and register their own handlers.
func demoRegistry(logger *slog.Logger) *job.Registry {
	handlers := make(map[job.Queue]job.Handler, len(job.Queues()))
	for _, q := range job.Queues() {
		handlers[q] = job.HandlerFunc(func(_ context.Context, actorID string) error {
			logger.Info("handled job",
				slog.String("queue", q.String()),
				slog.String("actor_id", actorID),
			)
			return nil
		})
	}
	return job.MustRegistry(handlers)
}
