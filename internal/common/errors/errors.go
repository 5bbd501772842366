// Package errors provides standardized error handling for the humanizer API.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Request validation
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeTextTooLong      ErrorCode = "TEXT_TOO_LONG"

	// Inference provider
	ErrCodeProviderKeyMissing  ErrorCode = "PROVIDER_KEY_MISSING"
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderFailed      ErrorCode = "PROVIDER_FAILED"
	ErrCodeProviderTimeout     ErrorCode = "PROVIDER_TIMEOUT"
	ErrCodeResponseMalformed   ErrorCode = "RESPONSE_MALFORMED"
	ErrCodeResponseIncomplete  ErrorCode = "RESPONSE_INCOMPLETE"

	// Accounts / auth
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"

	// OTP
	ErrCodeOTPSendFailed ErrorCode = "OTP_SEND_FAILED"

	// Storage
	ErrCodeDatabaseQueryFailed ErrorCode = "DATABASE_QUERY_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewValidationFailedError creates a non-retryable request validation error.
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Request payload validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTextTooLongError creates a non-retryable input size error.
func NewTextTooLongError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTextTooLong,
		Message:   "Input text exceeds the size limit",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderKeyMissingError creates a non-retryable configuration error.
func NewProviderKeyMissingError() *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderKeyMissing,
		Message:   "Inference provider credential is not configured",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderUnavailableError creates a retryable transient provider error.
func NewProviderUnavailableError(statusCode int, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderUnavailable,
		Message:   "Inference provider temporarily unavailable",
		Details:   details,
		Retryable: true,
		Metadata:  map[string]interface{}{"statusCode": statusCode},
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderFailedError creates a non-retryable terminal provider error.
func NewProviderFailedError(statusCode int, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderFailed,
		Message:   "Inference provider request failed",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"statusCode": statusCode},
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderTimeoutError creates a non-retryable provider timeout error.
func NewProviderTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderTimeout,
		Message:   "Inference provider call exceeded its deadline",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewResponseMalformedError creates a non-retryable model output parse error.
func NewResponseMalformedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeResponseMalformed,
		Message:   "Model output could not be parsed as JSON",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewResponseIncompleteError creates a non-retryable incomplete-shape error.
func NewResponseIncompleteError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeResponseIncomplete,
		Message:   "Model output is missing required fields",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseQueryFailedError creates a retryable database error.
func NewDatabaseQueryFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseQueryFailed,
		Message:   "Database query failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewOTPSendFailedError creates a retryable OTP delivery error.
func NewOTPSendFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeOTPSendFailed,
		Message:   "Verification code delivery failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuthenticationError creates a non-retryable authentication error.
func NewAuthenticationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthenticationFailed,
		Message:   "Authentication failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// IsRetryable reports whether err is, or wraps, a StandardError marked
// retryable.
func IsRetryable(err error) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
