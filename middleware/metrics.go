package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/delayed/job"
)

// meterName is the instrumentation scope name for handler metrics.
const meterName = "github.com/xraph/delayed/middleware"

// Metrics records handler metrics on the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter records, per attempt:
//   - delayed.job.duration (Float64Histogram, seconds)
//   - delayed.job.attempts (Int64Counter)
//
// both with attributes queue and outcome ("ok", "recoverable", "fatal").
func MetricsWithMeter(meter metric.Meter) Middleware {
	duration, dErr := meter.Float64Histogram(
		"delayed.job.duration",
		metric.WithDescription("Duration of handler execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	attempts, aErr := meter.Int64Counter(
		"delayed.job.attempts",
		metric.WithDescription("Total number of handler invocations"),
		metric.WithUnit("{attempt}"),
	)
	_ = aErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("queue", j.Queue.String()),
			attribute.String("outcome", outcome(err)),
		)
		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)

		return err
	}
}
