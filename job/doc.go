// Package job defines the job record, the closed set of queues, the
// handler contract and registry, the handler error taxonomy, and the store
// interface.
//
// # Job Record
//
// A [Job] names a [Queue] and an opaque actor ID. Its state is derived:
//
//	pending → running → done
//	pending → running → failed
//	pending → running → pending   (recoverable error, RunAt advanced)
//	pending → running → pending   (not yet due or no handler, unchanged)
//
// done and failed are terminal.
//
// # Handlers
//
// A [Handler] runs one attempt for one actor. The error it returns decides
// what happens next:
//
//	return nil                                  // done
//	return job.Fatal("order was deleted")       // failed, no retry
//	return job.Recoverable(err, "smtp timeout") // retried with backoff
//	return err                                  // retried with backoff
//
// Handlers are registered once in an immutable [Registry]:
//
//	reg, err := job.NewRegistry(map[job.Queue]job.Handler{
//	    job.QueueEmailConfirm: job.HandlerFunc(sendConfirmation),
//	})
package job
