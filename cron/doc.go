// Package cron drives the periodic sweep from a cron expression.
//
// The schedule is parsed with github.com/robfig/cron/v3 and accepts both
// standard 5-field expressions ("*/5 * * * *") and descriptors such as
// "@every 30s". The [Scheduler] checks on every tick whether the schedule
// is due; when it is, it calls the [FireFunc] the worker pool provided,
// reports the result through [Emitter] and computes the next due time.
//
// Fires run on the tick goroutine and never overlap. The sweep is a
// liveness mechanism only: running it more or less often changes latency,
// never correctness.
package cron
