// Package apperr defines the application error taxonomy shared by services
// and RPC procedures.
//
// Handlers return these errors directly; the RPC layer translates them into
// wire errors in exactly one place. Any error that is not an *Error is an
// internal fault and must never be shown to callers verbatim.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindRateLimited  Kind = "rate_limited"
	KindInternal     Kind = "internal"
)

// Machine-readable codes carried across the RPC boundary.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_SERVER_ERROR"
)

// Error is a taxonomy error with a code, an HTTP-equivalent status, and an
// optional structured payload.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	Data    any
	cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// ValidationData is the payload of a validation error.
type ValidationData struct {
	Field string `json:"field,omitempty"`
}

// RateLimitData is the payload of a rate-limited error.
type RateLimitData struct {
	RetryAfter int `json:"retryAfter" validate:"min=1"`
}

// Validation reports rejected input. The field is only attached when set.
func Validation(message, field string) *Error {
	err := &Error{
		Kind:    KindValidation,
		Code:    CodeValidation,
		Message: message,
		Status:  http.StatusBadRequest,
	}
	if field != "" {
		err.Data = ValidationData{Field: field}
	}
	return err
}

// NotFound reports a missing resource.
func NotFound(message string) *Error {
	if message == "" {
		message = "Resource not found"
	}
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeNotFound,
		Message: message,
		Status:  http.StatusNotFound,
	}
}

// Unauthorized reports a missing or invalid session. Callers must use the
// same message for every cause so the response does not reveal which check
// failed.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "Unauthorized"
	}
	return &Error{
		Kind:    KindUnauthorized,
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

// RateLimited reports throttling. retryAfter is expressed in seconds and is
// never below one.
func RateLimited(retryAfter int) *Error {
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &Error{
		Kind:    KindRateLimited,
		Code:    CodeRateLimited,
		Message: "Rate limited",
		Status:  http.StatusTooManyRequests,
		Data:    RateLimitData{RetryAfter: retryAfter},
	}
}

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *Error {
	if message == "" {
		message = "Internal server error"
	}
	return &Error{
		Kind:    KindInternal,
		Code:    CodeInternal,
		Message: message,
		Status:  http.StatusInternalServerError,
		cause:   cause,
	}
}

// As extracts the taxonomy error from err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) && target != nil {
		return target, true
	}
	return nil, false
}

// Is reports whether err carries a taxonomy error of the given kind.
func Is(err error, kind Kind) bool {
	target, ok := As(err)
	return ok && target.Kind == kind
}
