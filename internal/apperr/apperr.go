// Package apperr defines the error taxonomy shared by the engines. Every
// business-rule rejection carries a Kind so callers can branch on it
// programmatically instead of parsing messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for HTTP status mapping.
type Kind string

const (
	NotFound           Kind = "not_found"
	Invalid            Kind = "invalid"
	InsufficientFunds  Kind = "insufficient_funds"
	InsufficientShares Kind = "insufficient_shares"
	LimitExceeded      Kind = "limit_exceeded"
	Upstream           Kind = "upstream"
	Conflict           Kind = "conflict"
	Internal           Kind = "internal"
)

// Error is a kinded error. Err, when set, is the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain; unclassified errors are
// Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
