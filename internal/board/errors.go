package board

import (
	"errors"
	"fmt"
)

// Kind classifies operation failures for callers and API mapping.
type Kind int

const (
	KindUnknown Kind = iota

	// KindNotFound - the referenced project, column, task, label or
	// invitation no longer exists.
	KindNotFound

	// KindStale - an optimistic write or invitation action was superseded
	// by newer remote state.
	KindStale

	// KindValidationFailed - rejected before any optimistic mutation:
	// empty or over-length title, invalid priority, bad parent reference.
	KindValidationFailed

	// KindPersistenceFailed - the remote write was rejected or timed out
	// after the bounded retry.
	KindPersistenceFailed

	// KindUnauthorized - the actor lacks membership for the target
	// project.
	KindUnauthorized
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindStale:
		return "stale"
	case KindValidationFailed:
		return "validation_failed"
	case KindPersistenceFailed:
		return "persistence_failed"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error is a classified board operation failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Stalef builds a KindStale error.
func Stalef(format string, args ...interface{}) *Error {
	return &Error{Kind: KindStale, Message: fmt.Sprintf(format, args...)}
}

// Invalidf builds a KindValidationFailed error.
func Invalidf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf(format, args...)}
}

// Unauthorizedf builds a KindUnauthorized error.
func Unauthorizedf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// PersistenceFailed wraps a remote write failure.
func PersistenceFailed(message string, cause error) *Error {
	return &Error{Kind: KindPersistenceFailed, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or KindUnknown for unclassified
// errors.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// ErrClosed is returned by operations on a session after teardown.
var ErrClosed = errors.New("board session closed")
