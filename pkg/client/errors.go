package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrNotFound is returned when the API has no record for the ID.
	// The item API answers unknown IDs with a literal null body.
	ErrNotFound = errors.New("not found")

	// ErrDecode is returned when a response body is not valid JSON for the target type.
	ErrDecode = errors.New("decode response")

	// ErrThrottled is returned when a back-off window requested by the API is still open.
	ErrThrottled = errors.New("request blocked: upstream back-off in effect")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// APIError is a non-success HTTP status from the item API.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HN API %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("HN API %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// 4xx and unclassified errors will not get better on their own
		return false
	}
}
