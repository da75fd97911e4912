// Package tracererr implements the error-taxonomy helpers described in
// spec §7. Rather than distinct error types, each capture-time failure is
// classified by the *behavior* a caller takes on it: Fatal aborts the whole
// capture, Recoverable skips the offending event and continues, Continue
// logs and proceeds with a degraded subsystem (zero samples, no native
// trace, disabled adapter).
package tracererr

import (
	"errors"

	"github.com/gravitational/trace"
)

// Class categorizes a capture-time error by the handling it requires.
type Class int

const (
	// ClassFatal aborts the capture outright: empty command, execvp
	// failure, fork failure, initial wait not SIGSTOP.
	ClassFatal Class = iota
	// ClassRecoverable applies to a single event: decode failure on one
	// syscall, a corrupt stack-sample record, a relay read error other
	// than EINTR. The offending event is skipped; capture continues.
	ClassRecoverable
	// ClassContinue applies to whole-subsystem setup failures that leave
	// that subsystem degraded but do not abort the run: sampler setup
	// failure, native-trace ring read failure, adapter load failure.
	ClassContinue
)

// Error pairs an underlying (trace-wrapped) error with its Class.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Fatal wraps err as a ClassFatal error.
func Fatal(err error, format string, args ...interface{}) *Error {
	return &Error{Class: ClassFatal, Err: trace.Wrap(err, format, args...)}
}

// Recoverable wraps err as a ClassRecoverable error.
func Recoverable(err error, format string, args ...interface{}) *Error {
	return &Error{Class: ClassRecoverable, Err: trace.Wrap(err, format, args...)}
}

// Continue wraps err as a ClassContinue error.
func Continue(err error, format string, args ...interface{}) *Error {
	return &Error{Class: ClassContinue, Err: trace.Wrap(err, format, args...)}
}

// IsFatal reports whether err (or any error it wraps) is a ClassFatal
// tracererr.Error.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassFatal
	}
	return false
}

// Classify returns the Class of err if it (or something it wraps) is a
// tracererr.Error, and ok=false otherwise.
func Classify(err error) (class Class, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return 0, false
}
