package delayed

import "time"

// Config holds configuration for the Dispatcher.
type Config struct {
	// Concurrency bounds how many jobs run at once, per dispatch path.
	Concurrency int

	// SweepSchedule is a robfig/cron expression ("@every 30s",
	// "*/1 * * * *") controlling how often eligible jobs are swept.
	SweepSchedule string

	// SweepBatchSize caps how many eligible jobs one sweep dispatches.
	SweepBatchSize int

	// LockTTL enables stale lock reclaim when positive. A job locked for
	// longer than LockTTL is unlocked on the next sweep tick. Zero keeps
	// locks held by a crashed process in place forever.
	LockTTL time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs.
	ShutdownTimeout time.Duration

	// SignalBuffer is the capacity of the in-process signal bus.
	SignalBuffer int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		SweepSchedule:   "@every 30s",
		SweepBatchSize:  100,
		LockTTL:         0,
		ShutdownTimeout: 30 * time.Second,
		SignalBuffer:    1024,
	}
}
