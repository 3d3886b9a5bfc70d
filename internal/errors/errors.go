// Package errors defines the closed set of tagged failures the service
// returns to callers. Every ServiceError carries a stable code, a message safe
// to show users, the HTTP status it maps to and optional structured details.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies a failure kind.
type Code string

const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeInsufficientCredits Code = "INSUFFICIENT_CREDITS"
	CodeNoResults           Code = "NO_RESULTS"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeArchiveFailed       Code = "ARCHIVE_FAILED"
	CodeInvalidSignature    Code = "INVALID_SIGNATURE"
	CodeAlreadyProcessed    Code = "ALREADY_PROCESSED"

	CodeValidation   Code = "VALIDATION_FAILED"
	CodeConflict     Code = "CONFLICT"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeInvalidToken Code = "INVALID_TOKEN"
	CodeForbidden    Code = "FORBIDDEN"
	CodeRateLimited  Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// ServiceError is the tagged error type surfaced by services.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches any ServiceError with the same code, so callers can write
// errors.Is(err, errors.ErrNoResults).
func (e *ServiceError) Is(target error) bool {
	var other *ServiceError
	if !stderrors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// WithDetails returns a copy of e with an extra detail entry.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound            = &ServiceError{Code: CodeNotFound}
	ErrInsufficientCredits = &ServiceError{Code: CodeInsufficientCredits}
	ErrNoResults           = &ServiceError{Code: CodeNoResults}
	ErrUpstreamUnavailable = &ServiceError{Code: CodeUpstreamUnavailable}
	ErrArchiveFailed       = &ServiceError{Code: CodeArchiveFailed}
	ErrInvalidSignature    = &ServiceError{Code: CodeInvalidSignature}
	ErrAlreadyProcessed    = &ServiceError{Code: CodeAlreadyProcessed}
	ErrValidation          = &ServiceError{Code: CodeValidation}
	ErrConflict            = &ServiceError{Code: CodeConflict}
	ErrUnauthorized        = &ServiceError{Code: CodeUnauthorized}
	ErrInvalidToken        = &ServiceError{Code: CodeInvalidToken}
	ErrForbidden           = &ServiceError{Code: CodeForbidden}
	ErrRateLimited         = &ServiceError{Code: CodeRateLimited}
	ErrInternal            = &ServiceError{Code: CodeInternal}
)

// NotFound reports a missing resource.
func NotFound(resource, id string) *ServiceError {
	return &ServiceError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]interface{}{"resource": resource, "id": id},
	}
}

// InsufficientCredits reports the shortfall between required and available.
func InsufficientCredits(required, available int64) *ServiceError {
	return &ServiceError{
		Code:       CodeInsufficientCredits,
		Message:    "insufficient credits",
		HTTPStatus: http.StatusPaymentRequired,
		Details:    map[string]interface{}{"required": required, "available": available},
	}
}

func NoResults(keyword string) *ServiceError {
	return &ServiceError{
		Code:       CodeNoResults,
		Message:    "no images found for this keyword",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]interface{}{"keyword": keyword},
	}
}

func UpstreamUnavailable(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeUpstreamUnavailable,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func ArchiveFailed(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeArchiveFailed,
		Message:    "failed to package images",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func InvalidSignature() *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidSignature,
		Message:    "invalid payment signature",
		HTTPStatus: http.StatusBadRequest,
	}
}

func AlreadyProcessed(orderID string) *ServiceError {
	return &ServiceError{
		Code:       CodeAlreadyProcessed,
		Message:    "payment already processed",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]interface{}{"order_id": orderID},
	}
}

func Validation(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

func Conflict(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return &ServiceError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

func InvalidToken(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidToken,
		Message:    "invalid or expired token",
		HTTPStatus: http.StatusUnauthorized,
		Err:        err,
	}
}

func Forbidden(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimited,
		Message:    "too many requests, please slow down",
		HTTPStatus: http.StatusTooManyRequests,
		Details:    map[string]interface{}{"limit": limit, "window": window},
	}
}

// Internal wraps an unexpected failure. The message is shown to users, the
// wrapped error is not.
func Internal(message string, err error) *ServiceError {
	if message == "" {
		message = "internal server error"
	}
	return &ServiceError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// GetServiceError extracts the first ServiceError in err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus returns the status err maps to; untagged errors are 500.
func HTTPStatus(err error) int {
	if se := GetServiceError(err); se != nil && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
