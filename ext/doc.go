// Package ext defines the extension system.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, streaming events to operators, alerting on jobs that
// have no handler. Each hook is a separate interface; an extension
// implements only the ones it needs.
//
//	type Alerts struct{ pager Pager }
//
//	func (a *Alerts) Name() string { return "alerts" }
//
//	func (a *Alerts) OnJobUnhandled(ctx context.Context, j *job.Job) error {
//	    return a.pager.Page(ctx, "no handler for queue "+j.Queue.String())
//	}
//
// # Hooks
//
//   - [JobCreated]: job persisted by Create
//   - [JobStarted]: lock acquired, handler about to run
//   - [JobCompleted]: handler succeeded
//   - [JobRetrying]: recoverable failure, RunAt advanced
//   - [JobFailed]: fatal failure, job terminal
//   - [JobUnhandled]: queue has no handler, job left pending
//   - [SweepCompleted]: one sweep finished
//   - [Shutdown]: dispatcher stopping
//
// Hook errors are logged and never affect the job.
package ext
