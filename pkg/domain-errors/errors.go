// Package domainerrors provides coded errors shared by services and transports.
//
// Services return these so the HTTP layer can translate them into status codes
// without inspecting error strings. Infrastructure facts (not found, conflict)
// come from pkg/platform/sentinel and are translated at the service boundary.
package domainerrors

import (
	"errors"
	"fmt"
	"time"
)

// Code classifies a domain error.
type Code string

const (
	CodeValidation     Code = "validation_error"
	CodeBadRequest     Code = "bad_request"
	CodeNotFound       Code = "not_found"
	CodeConflict       Code = "conflict"
	CodeInvalidState   Code = "invalid_transition"
	CodeRateLimited    Code = "rate_limited"
	CodeUnauthorized   Code = "unauthorized"
	CodeForbidden      Code = "forbidden"
	CodeUnavailable    Code = "unavailable"
	CodeTimeout        Code = "timeout"
	CodeInternal       Code = "internal_error"
	CodeDeliveryFailed Code = "delivery_failure"
)

// Error is a coded error with optional structured metadata.
type Error struct {
	Code    Code
	Message string
	// Fields names the offending input fields for validation errors.
	Fields []string
	// RetryAfter is set on rate limited errors.
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error with the same code. An empty target message
// matches any message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// NewValidation creates a validation error naming the offending fields.
func NewValidation(message string, fields ...string) error {
	return &Error{Code: CodeValidation, Message: message, Fields: fields}
}

// NewRateLimited creates a rate limited error carrying a retry-after hint.
func NewRateLimited(message string, retryAfter time.Duration) error {
	return &Error{Code: CodeRateLimited, Message: message, RetryAfter: retryAfter}
}

// Is is errors.Is, re-exported so callers need a single import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// HasCode reports whether err (or anything it wraps) carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
