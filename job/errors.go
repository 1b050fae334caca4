package job

import (
	"errors"
	"fmt"
	"strings"
)

// fatalError marks a failure that retrying cannot fix.
type fatalError struct {
	reason string
	cause  error
}

func (e *fatalError) Error() string { return "fatal: " + e.reason }

func (e *fatalError) Unwrap() error { return e.cause }

// recoverableError is a failure with an optional operator-facing reason.
type recoverableError struct {
	reason string
	cause  error
}

func (e *recoverableError) Error() string {
	switch {
	case e.cause == nil:
		return e.reason
	case e.reason == "":
		return e.cause.Error()
	default:
		return e.reason + ": " + e.cause.Error()
	}
}

func (e *recoverableError) Unwrap() error { return e.cause }

// Fatal returns an error that completes the job as permanently failed with
// the given reason.
func Fatal(reason string) error {
	return &fatalError{reason: reason}
}

// Fatalf is Fatal with fmt formatting. A %w verb keeps the wrapped error
// reachable through errors.Is and errors.As.
func Fatalf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &fatalError{reason: err.Error(), cause: errors.Unwrap(err)}
}

// Recoverable wraps cause with a reason that is recorded on the job when it
// is rescheduled. Returning cause directly has the same retry semantics,
// minus the reason.
func Recoverable(cause error, reason string) error {
	return &recoverableError{reason: reason, cause: cause}
}

// IsFatal reports whether err, or anything it wraps, was built by Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// ReasonOf returns the reason carried by a Fatal or Recoverable error, or
// "" when err carries none.
func ReasonOf(err error) string {
	var fe *fatalError
	if errors.As(err, &fe) {
		return fe.reason
	}
	var re *recoverableError
	if errors.As(err, &re) {
		return re.reason
	}
	return ""
}

// PanicError is returned when a handler panics. Panics are recoverable.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Trace renders err as the diagnostic stored in Job.LastError: the error
// message, followed by the goroutine stack when err carries a panic.
func Trace(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(err.Error())
	var pe *PanicError
	if errors.As(err, &pe) && len(pe.Stack) > 0 {
		b.WriteString("\n\n")
		b.Write(pe.Stack)
	}
	return b.String()
}
