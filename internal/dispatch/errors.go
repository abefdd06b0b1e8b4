package dispatch

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the engine can surface, so the
// transport layer can pick an HTTP status without inspecting message text.
type ErrorKind string

const (
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindAlreadyExists   ErrorKind = "ALREADY_EXISTS"
	KindInvalidArgument ErrorKind = "INVALID_ARGUMENT"
	KindUnauthorized    ErrorKind = "UNAUTHORIZED"
	KindWorkerInactive  ErrorKind = "WORKER_INACTIVE"
	KindNotOwned        ErrorKind = "NOT_OWNED"
	// KindNotRunning refines NOT_OWNED for heartbeat's three-way contract
	// in spec.md §4.4 ("ok | NOT_OWNED | NOT_RUNNING"): the task exists but
	// is not currently RUNNING, independent of which worker last held it.
	KindNotRunning ErrorKind = "NOT_RUNNING"
	KindConflict   ErrorKind = "CONFLICT"
	KindTransient  ErrorKind = "TRANSIENT"
)

// Error is the typed error every engine call returns on failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *Error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Kind, true
}
