package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/delayed/job"
)

// tracerName is the instrumentation scope name for handler tracing.
const tracerName = "github.com/xraph/delayed/middleware"

// Tracing wraps the handler call in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer wraps the handler call in a "delayed.job.execute"
// span. A failing handler records the error on the span and marks it
// codes.Error; the span also carries delayed.outcome.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "delayed.job.execute",
			trace.WithAttributes(
				attribute.String("delayed.job.id", j.ID.String()),
				attribute.String("delayed.actor_id", j.ActorID),
				attribute.String("delayed.queue", j.Queue.String()),
				attribute.Int("delayed.attempt", j.Attempts+1),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		span.SetAttributes(attribute.String("delayed.outcome", outcome(err)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
