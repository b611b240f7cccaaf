// Package apperr defines the error taxonomy shared by the HTTP API and the
// domain services. Every user-visible failure is one of a small set of codes
// with a stable HTTP status mapping; anything else is an internal error whose
// detail is logged but never returned to the client.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
)

// Error carries a taxonomy code, a client-safe message, and an optional
// wrapped cause for logging.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func InvalidInput(msg string) error { return New(CodeInvalidInput, msg) }
func Unauthenticated(msg string) error {
	return New(CodeUnauthenticated, msg)
}
func Forbidden(msg string) error   { return New(CodeForbidden, msg) }
func NotFound(msg string) error    { return New(CodeNotFound, msg) }
func RateLimited(msg string) error { return New(CodeRateLimited, msg) }
func Conflict(msg string) error    { return New(CodeConflict, msg) }
func Internal(cause error) error {
	return Wrap(CodeInternal, "internal error", cause)
}

// CodeOf extracts the taxonomy code from err, or CodeInternal if err is not
// an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps a taxonomy code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// MessageOf returns the client-safe message for err. Internal errors get a
// generic message so storage detail never leaks to clients.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal {
		return e.Message
	}
	return "internal error"
}
