// Package audithook is an extension that turns job lifecycle events into
// structured audit records.
//
// Every hook emits an [AuditEvent] through the [Recorder] interface with a
// severity (info for normal operation, warning for retries and unhandled
// queues, critical for fatal failures) and metadata such as actor, queue,
// attempts and elapsed time.
//
// # Writing the trail to a logger
//
//	audithook.New(audithook.NewSlogRecorder(auditLogger))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobUnhandled,
//	    ),
//	)
package audithook
