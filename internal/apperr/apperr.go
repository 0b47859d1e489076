// Package apperr defines the closed error taxonomy shared by all services.
//
// Every error that crosses a service boundary is classified into exactly one
// Kind so that propagation decisions (HTTP status, retry, log level) stay
// exhaustive. The optional wrapped cause is preserved for logging but is
// never exposed to API callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind int

const (
	// KindInfrastructure covers store or gateway failures. It is the zero
	// value so unclassified errors default to the most severe kind.
	KindInfrastructure Kind = iota
	// KindValidation covers malformed caller input.
	KindValidation
	// KindNotFound covers unknown fingerprints and code mismatches. The two
	// are deliberately indistinguishable to prevent address enumeration.
	KindNotFound
	// KindConflict covers operations that clash with existing state, such as
	// subscribing an already-confirmed address.
	KindConflict
	// KindForbidden covers invalid bearer capabilities (opt-out codes).
	KindForbidden
)

// String returns the kind name for logs.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	default:
		return "infrastructure"
	}
}

// Error is a classified error with an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error. Returns nil if err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindInfrastructure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
