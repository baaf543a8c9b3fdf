// Package vsmerr defines the synchronous error taxonomy shared by every
// core component (see spec.md §7). Asynchronous operations never use
// these; they report via an Io_result-style enum in their completion
// handler instead.
package vsmerr

import (
	"errors"
	"fmt"
)

// Kind identifies the taxonomy bucket a synchronous error belongs to.
type Kind int

const (
	// InvalidParam marks an argument that violates a documented
	// constraint (e.g. a Property value outside its min/max).
	InvalidParam Kind = iota
	// InvalidOpState marks an operation attempted while the target is
	// in a state that forbids it (e.g. Set_processing_handler on a
	// non-pending Request).
	InvalidOpState
	// Nullptr marks a required reference that was nil/unset.
	Nullptr
	// AlreadyClosedStream marks an operation on a closed Io_stream.
	AlreadyClosedStream
	// NotFound marks a missing filesystem path or lookup key.
	NotFound
	// PermissionDenied mirrors EACCES-class failures.
	PermissionDenied
	// AlreadyExists mirrors EEXIST-class failures.
	AlreadyExists
	// Parse marks a malformed configuration or wire payload.
	Parse
	// InvalidID marks an unrecognized message or device id.
	InvalidID
	// Internal marks a condition that should be unreachable.
	Internal
	// System wraps an errno/OS-level failure.
	System
)

func (k Kind) String() string {
	switch k {
	case InvalidParam:
		return "invalid_param"
	case InvalidOpState:
		return "invalid_op_state"
	case Nullptr:
		return "nullptr"
	case AlreadyClosedStream:
		return "already_closed_stream"
	case NotFound:
		return "not_found"
	case PermissionDenied:
		return "permission_denied"
	case AlreadyExists:
		return "already_exists"
	case Parse:
		return "parse"
	case InvalidID:
		return "invalid_id"
	case Internal:
		return "internal_error"
	case System:
		return "system"
	default:
		return "unknown"
	}
}

// Error is the concrete error type raised by synchronous entry points.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("vsm: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("vsm: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a descriptive message.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to an underlying cause, preserving it
// for errors.Unwrap/errors.Is/errors.As.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
