package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/delayed/ext"
	"github.com/xraph/delayed/job"
)

// meterName is the instrumentation scope for lifecycle counters.
const meterName = "github.com/xraph/delayed/observability"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobCreated     = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobRetrying    = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobUnhandled   = (*MetricsExtension)(nil)
	_ ext.SweepCompleted = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters, each labelled
// with the job's queue. JobUnhandled is the one to alert on: it means a
// queue has jobs but no handler and those jobs will never progress.
type MetricsExtension struct {
	JobCreated     metric.Int64Counter
	JobCompleted   metric.Int64Counter
	JobRetried     metric.Int64Counter
	JobFailed      metric.Int64Counter
	JobUnhandled   metric.Int64Counter
	SweepJobs      metric.Int64Counter
	SweepDurations metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
// Instrument creation errors fall back to the OTel noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc)) //nolint:errcheck // noop fallback
		return c
	}
	hist, _ := meter.Float64Histogram("delayed.sweep.duration", //nolint:errcheck // noop fallback
		metric.WithDescription("Duration of one sweep in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobCreated:     counter("delayed.job.created", "Jobs persisted by Create"),
		JobCompleted:   counter("delayed.job.completed", "Jobs whose handler succeeded"),
		JobRetried:     counter("delayed.job.retried", "Recoverable failures rescheduled"),
		JobFailed:      counter("delayed.job.failed", "Jobs failed permanently"),
		JobUnhandled:   counter("delayed.job.unhandled", "Attempts skipped for lack of a handler"),
		SweepJobs:      counter("delayed.sweep.dispatched", "Jobs dispatched by the sweep"),
		SweepDurations: hist,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func queueAttr(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("queue", j.Queue.String()))
}

// OnJobCreated implements ext.JobCreated.
func (m *MetricsExtension) OnJobCreated(ctx context.Context, j *job.Job) error {
	m.JobCreated.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ error) error {
	m.JobRetried.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobUnhandled implements ext.JobUnhandled.
func (m *MetricsExtension) OnJobUnhandled(ctx context.Context, j *job.Job) error {
	m.JobUnhandled.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnSweepCompleted implements ext.SweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(ctx context.Context, dispatched int, elapsed time.Duration) error {
	m.SweepJobs.Add(ctx, int64(dispatched))
	m.SweepDurations.Record(ctx, elapsed.Seconds())
	return nil
}
