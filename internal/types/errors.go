package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// The first block is the execution-failure taxonomy: every outcome of a
// provider call is classified into exactly one of these codes, and the
// Executor derives retryability from the code alone.
const (
	// Execution failures (classified at the provider boundary)
	ErrCodeRateLimit    ErrorCode = "rate_limit"
	ErrCodeAuthError    ErrorCode = "auth_error"
	ErrCodeNetworkError ErrorCode = "network_error"
	ErrCodeNotFound     ErrorCode = "not_found"
	ErrCodeValidation   ErrorCode = "validation_error"
	ErrCodeTimeout      ErrorCode = "timeout"
	ErrCodeUnknown      ErrorCode = "unknown_error"

	// API validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidKind  ErrorCode = "validation_invalid_engagement_type"
	ErrCodeValidationBatchSize    ErrorCode = "validation_batch_size_exceeded"

	// Not Found (404)
	ErrCodeNotFoundActivity ErrorCode = "not_found_activity"
	ErrCodeNotFoundPod      ErrorCode = "not_found_pod"
	ErrCodeNotFoundAccount  ErrorCode = "not_found_account"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamQueue      ErrorCode = "upstream_queue_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case c == ErrCodeValidation, strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case c == ErrCodeAuthError:
		return http.StatusUnauthorized // 401
	case c == ErrCodeRateLimit:
		return http.StatusTooManyRequests // 429
	case c == ErrCodeNotFound, strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case c == ErrCodeNetworkError, c == ErrCodeTimeout, strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// Retryable reports whether an execution failure with this code is worth
// retrying. Non-retryable codes will not self-resolve: the credential is
// revoked, the input is malformed, or the target post is gone. Unclassified
// failures default to retryable, bounded by the executor's attempt cap.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeAuthError, ErrCodeValidation, ErrCodeNotFound,
		ErrCodeValidationMissingField, ErrCodeValidationInvalidKind,
		ErrCodeNotFoundActivity, ErrCodeNotFoundPod, ErrCodeNotFoundAccount:
		return false
	default:
		return true
	}
}

// AppError is the standard application error type used throughout the
// pipeline. All domain and handler errors should be expressed as AppError to
// enable consistent error formatting, HTTP status mapping, retryability
// decisions, and error chain support.
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

// Retryable returns whether this error's code is retryable.
func (e *AppError) Retryable() bool {
	return e.Code.Retryable()
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error. This is the standard constructor for domain
// errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// ClassifyError extracts the ErrorCode from an error chain. Errors that do
// not carry an AppError are treated as unknown_error, which keeps them
// retryable under the attempt cap (conservative default).
func ClassifyError(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}
