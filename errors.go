package delayed

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("delayed: no store configured")
	ErrMigrationFailed = errors.New("delayed: migration failed")

	// Not found errors.
	ErrJobNotFound = errors.New("delayed: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("delayed: job already exists")
	ErrLockLost         = errors.New("delayed: job lock no longer held")

	// Validation errors returned by Create.
	ErrInvalidActor = errors.New("delayed: actor id must not be empty")
	ErrInvalidQueue = errors.New("delayed: unknown queue")
	ErrInvalidState = errors.New("delayed: unknown job state")

	// Lifecycle errors.
	ErrStopped = errors.New("delayed: engine stopped")

	// Registry errors.
	ErrNilHandler = errors.New("delayed: nil handler")

	// Signal errors.
	ErrSignalDropped = errors.New("delayed: signal dropped")
	ErrBusClosed     = errors.New("delayed: signal bus closed")
)
