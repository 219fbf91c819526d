// Package errors provides coded domain errors for the Grimoire API.
//
// Services return typed errors and the HTTP layer maps them to status codes:
//
//	if !policy.CanMutate(identity, book) {
//	    return errors.Forbidden("not the owner of this book")
//	}
//
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    status := domainErr.HTTPStatus()
//	    ...
//	}
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeMissingCredential  Code = "MISSING_CREDENTIAL"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidRating      Code = "INVALID_RATING"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeStorageFailure     Code = "STORAGE_FAILURE"
	CodeConflict           Code = "CONFLICT"
	CodeTimeout            Code = "TIMEOUT"
	CodeCanceled           Code = "CANCELED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeMissingCredential, CodeInvalidToken, CodeUnauthorized, CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidRating, CodeValidation, CodeAlreadyExists:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeCanceled:
		// Client went away; nginx's 499 has no net/http constant.
		return 499
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithCause returns a copy of the error wrapping err.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrMissingCredential  = &Error{Code: CodeMissingCredential, Message: "missing credential"}
	ErrInvalidToken       = &Error{Code: CodeInvalidToken, Message: "invalid token"}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "invalid credentials"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidRating      = &Error{Code: CodeInvalidRating, Message: "invalid rating"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation error"}
	ErrAlreadyExists      = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrStorageFailure     = &Error{Code: CodeStorageFailure, Message: "storage failure"}
	ErrConflict           = &Error{Code: CodeConflict, Message: "conflict"}
	ErrTimeout            = &Error{Code: CodeTimeout, Message: "operation timed out"}
	ErrCanceled           = &Error{Code: CodeCanceled, Message: "operation canceled"}
	ErrRateLimited        = &Error{Code: CodeRateLimited, Message: "too many requests"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
)

// MissingCredential creates a missing credential error.
func MissingCredential(msg string) *Error {
	return &Error{Code: CodeMissingCredential, Message: msg}
}

// InvalidToken creates an invalid token error.
func InvalidToken(msg string) *Error {
	return &Error{Code: CodeInvalidToken, Message: msg}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// InvalidCredentials creates an invalid credentials error.
func InvalidCredentials(msg string) *Error {
	return &Error{Code: CodeInvalidCredentials, Message: msg}
}

// Forbidden creates a forbidden error.
func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// InvalidRating creates an invalid rating error.
func InvalidRating(msg string) *Error {
	return &Error{Code: CodeInvalidRating, Message: msg}
}

// InvalidRatingf creates an invalid rating error with formatted message.
func InvalidRatingf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRating, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// AlreadyExists creates an already exists error.
func AlreadyExists(msg string) *Error {
	return &Error{Code: CodeAlreadyExists, Message: msg}
}

// StorageFailure wraps a persistence or blob I/O error.
func StorageFailure(err error, msg string) *Error {
	return &Error{Code: CodeStorageFailure, Message: msg, cause: err}
}

// Conflict creates a conflict error.
func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// FromContext maps a context error to Timeout or Canceled.
// Returns nil when err is not a context error.
func FromContext(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout.WithCause(err)
	case errors.Is(err, context.Canceled):
		return ErrCanceled.WithCause(err)
	default:
		return nil
	}
}
