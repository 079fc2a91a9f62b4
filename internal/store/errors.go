package store

import (
	"fmt"
)

// Error is a persistence error with a short machine-readable kind.
type Error struct {
	Kind    string // stable identifier, e.g. "not_found"
	Message string // human-readable message
	Err     error  // underlying error (optional)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so wrapped sentinels still compare.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithMessage returns a new error with a custom message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{
		Kind:    e.Kind,
		Message: msg,
		Err:     e.Err,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Kind:    e.Kind,
		Message: e.Message,
		Err:     err,
	}
}

// Sentinel errors.
var (
	ErrNotFound = &Error{
		Kind:    "not_found",
		Message: "record not found",
	}

	ErrAlreadyExists = &Error{
		Kind:    "already_exists",
		Message: "record already exists",
	}

	ErrInvalidInput = &Error{
		Kind:    "invalid_input",
		Message: "invalid input",
	}
)
