// Package delayed provides a durable delayed job dispatcher for Go.
//
// A job names a closed queue and an opaque actor ID. The dispatcher runs
// the handler registered for the queue against the actor, at least once,
// retrying recoverable failures with quartic backoff until the handler
// succeeds or reports a fatal error.
//
// # Quick Start
//
//	reg, err := job.NewRegistry(map[job.Queue]job.Handler{
//	    job.QueueEmailConfirm: job.HandlerFunc(sendConfirmation),
//	})
//
//	d, err := delayed.New(delayed.WithStore(pgStore))
//	eng, err := engine.Build(d, pgStore, reg)
//	_ = d.Start(ctx)
//
//	j, err := eng.Create(ctx, "order-1", job.QueueEmailConfirm)
//
// # Architecture
//
// Every execution attempt goes through one entry point that first takes
// the job's lock with a single conditional update in the store:
//
//	UPDATE jobs SET locked = true WHERE id = ? AND locked = false AND complete = false
//
// Two producers feed that entry point: a signal published right after a
// job is created, and a periodic sweep over eligible jobs. Because the
// conditional update admits one winner, the producers never coordinate
// and replicas sharing a store never run the same job concurrently.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package delayed
