package job

import "time"

// Options configures a single Create call.
type Options struct {
	// RunAt schedules the job. Zero means now plus Delay.
	RunAt time.Time

	// Delay postpones the job relative to creation time. Ignored when
	// RunAt is set.
	Delay time.Duration
}

// Option is a functional option for Create.
type Option func(*Options)

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithDelay schedules the job d after creation.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// ResolveRunAt applies opts and returns the job's first eligible instant.
func ResolveRunAt(now time.Time, opts ...Option) time.Time {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if !o.RunAt.IsZero() {
		return o.RunAt.UTC()
	}
	return now.Add(o.Delay)
}
