// Package errs defines the error kinds shared by the policy layer, the
// stores and the HTTP handlers.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Use errors.Is against these to classify a failure.
var (
	ErrValidation   = errors.New("validation failed")
	ErrPermission   = errors.New("permission denied")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrPrecondition = errors.New("precondition failed")
	ErrStorage      = errors.New("storage failure")
)

// Error carries a kind, a caller-facing message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func newf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(ErrValidation, format, args...)
}

func Permission(format string, args ...any) *Error {
	return newf(ErrPermission, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(ErrNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newf(ErrConflict, format, args...)
}

func Precondition(format string, args ...any) *Error {
	return newf(ErrPrecondition, format, args...)
}

// Storage wraps a persistence failure. A nil cause returns nil.
func Storage(cause error, message string) error {
	if cause == nil {
		return nil
	}
	// Keep not-found and conflict classifications from the store.
	if errors.Is(cause, ErrNotFound) || errors.Is(cause, ErrConflict) {
		return cause
	}
	return &Error{Kind: ErrStorage, Message: message, Cause: cause}
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrPrecondition):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the caller-facing text of err without internal causes.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
