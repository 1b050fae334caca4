// Package queue throttles how fast attempts start on each job queue.
//
//	m := queue.NewManager(
//	    queue.Config{Queue: job.QueueEmailConfirm, RateLimit: 10, RateBurst: 20},
//	    queue.Config{Queue: job.QueuePaymentReconcile, MaxConcurrency: 2},
//	)
//	if m.Acquire(j.Queue) {
//	    defer m.Release(j.Queue)
//	    // run the attempt
//	}
//
// The limiter is consulted before a job's lock is taken, so a refused
// attempt changes nothing; the job stays eligible and the next sweep
// offers it again. [Manager] uses a golang.org/x/time/rate token bucket
// and an active-count gate.
package queue
