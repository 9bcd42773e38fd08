package internal

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// retryable is implemented by every error in the taxonomy. It reports whether
// repeating the same request may succeed.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err is a transient upstream failure worth
// retrying: network failures, timeouts, 5xx and 429 responses.
func IsRetryable(err error) bool {
	var r retryable
	if stderrors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// IsTemporary reports whether err asks the caller to come back later without
// having reached the upstream (open circuit or local rate limit).
func IsTemporary(err error) bool {
	var open *CircuitOpenError
	var limited *RateLimitedError
	return stderrors.As(err, &open) || stderrors.As(err, &limited)
}

// RetryAfter returns the suggested wait carried by a temporary error.
func RetryAfter(err error) (time.Duration, bool) {
	var open *CircuitOpenError
	if stderrors.As(err, &open) {
		return open.RetryAfter, true
	}
	var limited *RateLimitedError
	if stderrors.As(err, &limited) {
		return limited.RetryAfter, true
	}
	return 0, false
}

// NetworkError is a connection failure or timeout, returned once retries are
// exhausted or the caller's deadline expired.
type NetworkError struct {
	Op       string
	Err      error
	Timeout  bool
	Attempts int
}

func (e *NetworkError) Error() string {
	msg := fmt.Sprintf("%s: network error", e.Op)
	if e.Timeout {
		msg = fmt.Sprintf("%s: timeout", e.Op)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempt(s)", msg, e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Retryable implements retryable.
func (e *NetworkError) Retryable() bool {
	return true
}

// IsTimeout returns true if the error indicates a timeout occurred.
func (e *NetworkError) IsTimeout() bool {
	return e.Timeout
}

// UpstreamStatusError is a non-2xx HTTP status returned by the upstream.
type UpstreamStatusError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *UpstreamStatusError) Error() string {
	msg := fmt.Sprintf("%s: upstream returned %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Retryable implements retryable. Only 5xx and 429 are worth repeating.
func (e *UpstreamStatusError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsNotFound returns true if the upstream reported the resource as missing.
func (e *UpstreamStatusError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// DeserializationError is a well-formed response whose payload could not be
// mapped to the expected schema.
type DeserializationError struct {
	Op  string
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("%s: unexpected upstream payload: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// Retryable implements retryable.
func (e *DeserializationError) Retryable() bool {
	return false
}

// CircuitOpenError is returned without contacting the upstream while the
// circuit breaker is open.
type CircuitOpenError struct {
	Op         string
	OpenedAt   time.Time
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit open since %s, retry after %s",
		e.Op, e.OpenedAt.UTC().Format(time.RFC3339), e.RetryAfter)
}

// Retryable implements retryable.
func (e *CircuitOpenError) Retryable() bool {
	return false
}

// RateLimitedError is returned when no token could be acquired within the
// configured wait-timeout. A caller deadline that expires first is a
// NetworkError timeout instead.
type RateLimitedError struct {
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	msg := fmt.Sprintf("%s: rate limited, retry after %s", e.Op, e.RetryAfter)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// Retryable implements retryable.
func (e *RateLimitedError) Retryable() bool {
	return false
}

// InvalidRequestError is an argument rejected before any upstream call.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Retryable implements retryable.
func (e *InvalidRequestError) Retryable() bool {
	return false
}
