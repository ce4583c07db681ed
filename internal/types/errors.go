package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Handlers and services use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidField     ErrorCode = "validation_invalid_field"
	ErrCodeValidationInvalidService   ErrorCode = "validation_invalid_service"
	ErrCodeValidationInvalidNickname  ErrorCode = "validation_invalid_nickname"
	ErrCodeValidationInvalidAmount    ErrorCode = "validation_invalid_amount"
	ErrCodeValidationInvalidToken     ErrorCode = "validation_invalid_idempotency_token"
	ErrCodeValidationInvalidSignature ErrorCode = "validation_invalid_signature"
	ErrCodeValidationInvalidPayload   ErrorCode = "validation_invalid_payload"
	ErrCodeValidationInvalidJSON      ErrorCode = "validation_invalid_json"

	// Auth (401)
	ErrCodeAuthTicketInvalid ErrorCode = "auth_ticket_invalid"
	ErrCodeAuthTicketExpired ErrorCode = "auth_ticket_expired"

	// Permission (403)
	ErrCodePermissionAccessDenied ErrorCode = "permission_access_denied"

	// Limits (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundSession ErrorCode = "not_found_checkout_session"

	// Payment
	ErrCodePaymentNotCompleted  ErrorCode = "payment_not_completed"
	ErrCodePaymentProviderError ErrorCode = "payment_provider_error"
	ErrCodePaymentDeclined      ErrorCode = "payment_declined"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalStore       ErrorCode = "internal_store_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamStripe      ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamLLM         ErrorCode = "upstream_llm_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case s == string(ErrCodePaymentNotCompleted), s == string(ErrCodePaymentDeclined):
		return http.StatusPaymentRequired
	case s == string(ErrCodePaymentProviderError):
		return http.StatusBadGateway
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Handlers render it through
// core.Error, which derives the HTTP status from Code.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// InvalidServiceError reports a service identifier missing from the catalog.
func InvalidServiceError(serviceID string) *AppError {
	return NewAppErrorWithDetails(
		ErrCodeValidationInvalidService,
		"unknown service",
		nil,
		map[string]any{"service_id": serviceID},
	)
}

// AccessDeniedError reports a caller without credits or with a wrong code.
func AccessDeniedError(message string) *AppError {
	return NewAppError(ErrCodePermissionAccessDenied, message, nil)
}

// HasCode reports whether the first AppError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
