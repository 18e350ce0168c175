package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes surfaced in the API envelope.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeAuthenticationFail  = "AUTHENTICATION_FAILED"
	CodeJobNotFound         = "JOB_NOT_FOUND"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeHTTPException       = "HTTP_EXCEPTION"
	CodeRequestTooLarge     = "REQUEST_TOO_LARGE"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeQueryLimitExceeded  = "QUERY_LIMIT_EXCEEDED"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
	CodeUserAccessFailed    = "USER_ACCESS_FAILED"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeAIServiceError      = "AI_SERVICE_ERROR"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeNoServiceAvailable  = "NO_SERVICE_AVAILABLE"
	CodeRegistryConflict    = "REGISTRY_CONFLICT"

	// Terminal job reasons; never mapped to an HTTP status directly.
	CodeCancelled = "CANCELLED"
	CodeStale     = "STALE"
)

// Error is the typed domain error carried from the service layers to the
// single HTTP mapping boundary.
type Error struct {
	Code    string
	Message string
	Err     error
	// RetryAfter is the number of seconds a rate-limited caller should wait.
	// Only meaningful for RATE_LIMIT_EXCEEDED and QUERY_LIMIT_EXCEEDED.
	RetryAfter int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a typed domain error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError attaches an underlying cause to a typed domain error.
func WrapError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// AsError extracts a typed domain error from an error chain.
func AsError(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code of an error chain, defaulting to
// INTERNAL_SERVER_ERROR for untyped errors.
func CodeOf(err error) string {
	if typed, ok := AsError(err); ok {
		return typed.Code
	}
	return CodeInternalServerError
}

// StatusOf maps a taxonomy code to its canonical HTTP status.
func StatusOf(code string) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusUnprocessableEntity
	case CodeAuthenticationFail:
		return http.StatusUnauthorized
	case CodeJobNotFound, CodeUserNotFound, CodeHTTPException:
		return http.StatusNotFound
	case CodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeRateLimitExceeded, CodeQueryLimitExceeded:
		return http.StatusTooManyRequests
	case CodeRegistryConflict:
		return http.StatusConflict
	case CodeAIServiceError:
		return http.StatusBadGateway
	case CodeServiceUnavailable, CodeNoServiceAvailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// SafeMessage returns the client-facing message for an error chain. Untyped
// errors never leak their message.
func SafeMessage(err error) string {
	if typed, ok := AsError(err); ok {
		return typed.Message
	}
	return "An internal error occurred. Please try again."
}
