// Package middleware provides composable middleware around handler calls.
// Middleware runs synchronously inside one execution attempt, after the
// job's lock is held and before the outcome is recorded.
package middleware

import (
	"context"

	"github.com/xraph/delayed/job"
)

// Handler is the terminal function that runs the job's handler.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// locked job (read-only: changes are not persisted) and the next handler.
// Middleware MUST call next unless it deliberately short-circuits.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middleware so the first in the list is the outermost:
// Chain(logging, recover) runs logging → recover → handler.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}

// outcome labels an attempt's error for logs and metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case job.IsFatal(err):
		return "fatal"
	default:
		return "recoverable"
	}
}
