package errors

import (
	"fmt"
)

// NewResolutionError creates an error for a source the upstream cannot
// identify. Non-fatal: the caller logs it to the crawl status and skips
// the source for the pass.
func NewResolutionError(sourceID int64, err error) *AppError {
	return Wrap(err, ErrCodeResolution, fmt.Sprintf("could not resolve source %d", sourceID)).
		WithContext("source_id", sourceID)
}

// NewMalformedPayloadError marks a payload that can never succeed.
// Never retryable: it goes straight to the dead-letter sink.
func NewMalformedPayloadError(reason string) *AppError {
	return New(ErrCodeMalformedPayload, reason)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation)
}

// NewConnectivityError wraps a transient network/session failure.
// Retryable up to the reconnect supervisor's attempt ceiling.
func NewConnectivityError(message string, err error) *AppError {
	return WrapRetryable(err, ErrCodeConnectivity, message)
}

// NewGatewayError creates an error for upstream gateway API calls.
func NewGatewayError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeGatewayAPI, "gateway API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	if statusCode >= 500 || statusCode == 429 || statusCode == 408 {
		appErr.Retryable = true
	}

	return appErr
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key)
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource string, identifier interface{}) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier)
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidConfig, ErrCodeMalformedPayload:
		return 400
	case ErrCodeNotFound:
		return 404
	case ErrCodeRateLimit:
		return 429
	case ErrCodeTimeout:
		return 408
	case ErrCodeGatewayAPI, ErrCodeResolution, ErrCodeConnectivity:
		if IsRetryable(err) {
			return 502
		}
		return 500
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration:
		return 503
	default:
		return 500
	}
}
