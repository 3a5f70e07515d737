// Package apierr defines the structured error taxonomy returned by operation
// handlers. Every error carries a stable machine-readable code, a
// human-readable message, and the HTTP status it maps to. Business errors
// never commit partial mutations.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a structured operation error.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"errorCode"`
	Message string `json:"errorMessage"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error for logging without changing the
// client-visible code or message.
func (e *Error) WithCause(err error) *Error {
	clone := *e
	clone.cause = err
	return &clone
}

// ValidationFailed reports a missing or malformed request field.
func ValidationFailed(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "errors.profile.validation_failed", Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown profile, item, or offer.
func NotFound(format string, args ...any) *Error {
	return &Error{Status: http.StatusNotFound, Code: "errors.profile.not_found", Message: fmt.Sprintf(format, args...)}
}

// Forbidden reports an operation that is not valid for the named profile or
// lacks permission between two accounts.
func Forbidden(format string, args ...any) *Error {
	return &Error{Status: http.StatusForbidden, Code: "errors.profile.forbidden", Message: fmt.Sprintf(format, args...)}
}

// InsufficientFunds reports a debit that would leave a balance negative.
func InsufficientFunds(format string, args ...any) *Error {
	return &Error{Status: http.StatusConflict, Code: "errors.profile.insufficient_funds", Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a duplicate entry, such as a redemption code already used.
func Conflict(format string, args ...any) *Error {
	return &Error{Status: http.StatusConflict, Code: "errors.profile.conflict", Message: fmt.Sprintf(format, args...)}
}

// Internal reports a persistence or collaborator failure. The operation is
// aborted and accumulated change records are discarded.
func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: "errors.profile.internal", Message: "an internal error occurred", cause: err}
}

// From normalizes any error into an *Error, wrapping unknown errors as
// Internal.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// IsBusiness reports whether the error is an expected business outcome rather
// than an internal failure.
func IsBusiness(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status != http.StatusInternalServerError
}
