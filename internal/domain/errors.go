package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnectionNotFound is returned when a connection does not exist
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrTokenNotFound is returned when no active token exists for a connection
	ErrTokenNotFound = errors.New("token not found")

	// ErrReconnectRequired is returned when a token is expired and cannot be
	// refreshed; the tenant has to re-authorize the connection
	ErrReconnectRequired = errors.New("reconnect required")

	// ErrProviderNotConfigured is returned when no adapter is registered for a provider id
	ErrProviderNotConfigured = errors.New("provider not configured")

	// ErrSyncSkipped signals that an account was synced too recently and the
	// planner decided to skip it; recorded as a warning, not an error
	ErrSyncSkipped = errors.New("sync skipped")

	// ErrPageLimitExceeded is returned when a provider keeps returning pages
	// past the safety bound
	ErrPageLimitExceeded = errors.New("pagination safety limit exceeded")
)

// ErrorKind classifies provider failures so callers can decide
// retry vs. abort vs. surface-to-user without string matching
type ErrorKind string

const (
	// ErrorKindRateLimited means the provider returned 429; retried after the server delay
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindUnauthorized means the token is invalid or expired; requires reconnect
	ErrorKindUnauthorized ErrorKind = "unauthorized"
	// ErrorKindValidation means the provider rejected the request shape; never retried
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindTransient means a network or 5xx failure; retried with backoff
	ErrorKindTransient ErrorKind = "transient"
)

// ProviderError is a classified failure from a provider API call
type ProviderError struct {
	// Kind is the error classification
	Kind ErrorKind
	// Provider is the provider name that produced the error
	Provider string
	// StatusCode is the HTTP status code, if any
	StatusCode int
	// Message is the parsed provider error message
	Message string
	// RetryAfter is the server-specified delay for rate-limited responses
	RetryAfter time.Duration
	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AsProviderError extracts a ProviderError from an error chain
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether the error may succeed on retry
// (rate-limited or transient failures)
func IsRetryable(err error) bool {
	if pe, ok := AsProviderError(err); ok {
		return pe.Kind == ErrorKindRateLimited || pe.Kind == ErrorKindTransient
	}
	return false
}

// RequiresReconnect reports whether the error means the connection
// needs re-authorization by the tenant
func RequiresReconnect(err error) bool {
	if errors.Is(err, ErrReconnectRequired) {
		return true
	}
	if pe, ok := AsProviderError(err); ok {
		return pe.Kind == ErrorKindUnauthorized
	}
	return false
}

// RetryAfterOf returns the server-specified retry delay for rate-limited
// errors, or zero when the error carries none
func RetryAfterOf(err error) time.Duration {
	if pe, ok := AsProviderError(err); ok && pe.Kind == ErrorKindRateLimited {
		return pe.RetryAfter
	}
	return 0
}
