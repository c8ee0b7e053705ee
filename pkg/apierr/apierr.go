// Package apierr centralizes the error taxonomy shared by every component
// (spec.md §7): a fixed set of kinds, each with an HTTP status and an
// envelope-shaped response, so handlers never hand-roll status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the fixed error categories from spec.md §7.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict_or_busy"
	KindResourceLimit Kind = "resource_limit"
	KindTraining      Kind = "training_error"
	KindPrediction    Kind = "prediction_error"
	KindStorage       Kind = "storage_error"
	KindTimeout       Kind = "timeout_error"
	KindSecurity      Kind = "security_error"
)

// Error wraps an underlying cause with a taxonomy Kind and optional
// retry hint, so callers can branch on Kind without string-matching.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds; 0 means "no hint"
	Retryable  bool
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New constructs a taxonomy error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind to an existing error, preserving it via errors.Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Validation, NotFound, Conflict, ResourceLimit, Training, Prediction,
// Storage, Timeout, and Security are convenience constructors.

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...), Retryable: true}
}

func ResourceLimit(retryAfterSeconds int, format string, args ...interface{}) *Error {
	return &Error{Kind: KindResourceLimit, Message: fmt.Sprintf(format, args...), RetryAfter: retryAfterSeconds, Retryable: true}
}

func Training(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindTraining, fmt.Sprintf(format, args...), cause)
}

func Prediction(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindPrediction, fmt.Sprintf(format, args...), cause)
}

func Storage(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindStorage, fmt.Sprintf(format, args...), cause)
}

func Timeout(format string, args ...interface{}) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...), Retryable: true}
}

func Security(format string, args ...interface{}) *Error {
	return New(KindSecurity, fmt.Sprintf(format, args...))
}

// HTTPStatus maps a Kind to the status code spec.md §7 assigns it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindResourceLimit:
		return http.StatusTooManyRequests
	case KindSecurity:
		return http.StatusForbidden
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTraining, KindPrediction, KindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err via errors.As, for handlers that need the
// Kind/RetryAfter without caring who produced it.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Envelope is the {status, data?, message?, pagination?} response shape
// spec.md §6 requires for every HTTP response.
type Envelope struct {
	Status     string      `json:"status"`
	Data       interface{} `json:"data,omitempty"`
	Message    string      `json:"message,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination describes a page of a list response.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// Ok wraps a successful payload.
func Ok(data interface{}) Envelope {
	return Envelope{Status: "ok", Data: data}
}

// OkPaginated wraps a successful paginated payload.
func OkPaginated(data interface{}, p Pagination) Envelope {
	return Envelope{Status: "ok", Data: data, Pagination: &p}
}

// Fail wraps an error into a response envelope and its HTTP status.
func Fail(err error) (Envelope, int) {
	if apiErr, ok := As(err); ok {
		return Envelope{Status: "error", Message: apiErr.Message}, HTTPStatus(apiErr.Kind)
	}
	return Envelope{Status: "error", Message: err.Error()}, http.StatusInternalServerError
}
