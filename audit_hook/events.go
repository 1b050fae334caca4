package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobCreated     = "job.created"
	ActionJobStarted     = "job.started"
	ActionJobCompleted   = "job.completed"
	ActionJobRetrying    = "job.retrying"
	ActionJobFailed      = "job.failed"
	ActionJobUnhandled   = "job.unhandled"
	ActionSweepCompleted = "sweep.completed"
)

// Audit event categories group related actions.
const (
	CategoryJob   = "delayed.job"
	CategorySweep = "delayed.sweep"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob   = "job"
	ResourceSweep = "sweep"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobCreated,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobRetrying,
		ActionJobFailed,
		ActionJobUnhandled,
		ActionSweepCompleted,
	}
}
