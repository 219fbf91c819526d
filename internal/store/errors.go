package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error is a store error with an HTTP status code.
type Error struct {
	Code    int    // HTTP status code
	Message string // User-facing message
	Err     error  // Underlying error (optional)

	base *Error // sentinel this error was derived from
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches copies derived from the same sentinel, so
// errors.Is(ErrNotFound.WithMessage("x"), ErrNotFound) holds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.root() == t.root()
}

func (e *Error) root() *Error {
	if e.base != nil {
		return e.base
	}
	return e
}

// HTTPCode returns the HTTP status code associated with this error.
func (e *Error) HTTPCode() int { return e.Code }

// WithMessage returns a new error with a custom message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg, Err: e.Err, base: e.root()}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: err, base: e.root()}
}

// Sentinel errors.
var (
	ErrNotFound = &Error{
		Code:    http.StatusNotFound,
		Message: "resource not found",
	}

	ErrAlreadyExists = &Error{
		Code:    http.StatusConflict,
		Message: "resource already exists",
	}

	ErrInvalidInput = &Error{
		Code:    http.StatusBadRequest,
		Message: "invalid input",
	}

	// ErrConflict is returned when optimistic retries are exhausted.
	ErrConflict = &Error{
		Code:    http.StatusConflict,
		Message: "concurrent modification, retries exhausted",
	}

	ErrTimeout = &Error{
		Code:    http.StatusGatewayTimeout,
		Message: "operation timed out",
	}
)

// contextError converts a context failure into ErrTimeout (deadline) or passes
// cancellation through. Returns nil if ctx is still live.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout.WithCause(err)
	default:
		return err
	}
}

// ContextError is contextError for sibling backends.
func ContextError(ctx context.Context) error {
	return contextError(ctx)
}
