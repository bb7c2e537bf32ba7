package gateway

import (
	"errors"
	"fmt"
	"time"
)

// ErrClientClosed is returned by operations issued after Close
var ErrClientClosed = errors.New("gateway client is closed")

// ErrNotReady is returned by the transport when a frame is written outside
// the ready state
var ErrNotReady = errors.New("transport channel is not ready")

// ConnectionLostError indicates the underlying channel failed while the call
// was in flight. Retryable.
type ConnectionLostError struct {
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection lost: %v", e.Cause)
	}
	return "connection lost"
}

func (e *ConnectionLostError) Unwrap() error { return e.Cause }

// AuthenticationError indicates the identity handshake was rejected.
// Fatal for the connection attempt; never retried by RetryPolicy.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// TimeoutError indicates the caller-side deadline elapsed before a response
// arrived. The remote side may still complete the call; a late response is
// silently dropped.
type TimeoutError struct {
	Method  string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call %q timed out after %s", e.Method, e.Elapsed)
}

// RateLimitError indicates the gateway rejected the call for throughput
// reasons. RetryAfter carries the server hint when provided, zero otherwise.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// CircuitOpenError indicates the circuit breaker short-circuited the call
// before it reached the network.
type CircuitOpenError struct {
	Target  string
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q, retry in %s", e.Target, e.RetryIn)
}

// DuplicateRequestError indicates an identical (method, params) submission
// was seen within the deduplication window.
type DuplicateRequestError struct {
	Method string
	Age    time.Duration
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("duplicate call to %q first seen %s ago", e.Method, e.Age)
}

// GatewayError is an application error reported by the remote side.
// Retryable only when the gateway explicitly marks it so.
type GatewayError struct {
	Code       string
	Message    string
	Retryable  bool
	RetryAfter time.Duration
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// errorFromWire converts a response frame error into a typed error
func errorFromWire(we *WireError) error {
	if we == nil {
		return nil
	}
	retryAfter := time.Duration(we.RetryAfterMS) * time.Millisecond
	switch we.Code {
	case CodeAuthFailed:
		return &AuthenticationError{Reason: we.Message}
	case CodeRateLimited:
		return &RateLimitError{RetryAfter: retryAfter}
	default:
		return &GatewayError{
			Code:       we.Code,
			Message:    we.Message,
			Retryable:  we.Retryable,
			RetryAfter: retryAfter,
		}
	}
}

// Retryable reports whether the error is transient per the retry taxonomy:
// connection loss, local timeout, and rate limiting are retryable; gateway
// errors only when explicitly marked. Authentication, circuit-open, and
// duplicate errors are never retryable.
func Retryable(err error) bool {
	var connLost *ConnectionLostError
	var timeout *TimeoutError
	var rateLimit *RateLimitError
	var gwErr *GatewayError
	switch {
	case errors.As(err, &connLost), errors.As(err, &timeout), errors.As(err, &rateLimit):
		return true
	case errors.As(err, &gwErr):
		return gwErr.Retryable
	}
	return false
}

// retryAfterHint extracts a server-provided retry delay from the error, if any
func retryAfterHint(err error) (time.Duration, bool) {
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) && rateLimit.RetryAfter > 0 {
		return rateLimit.RetryAfter, true
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) && gwErr.RetryAfter > 0 {
		return gwErr.RetryAfter, true
	}
	return 0, false
}

// ErrorKind returns a stable label for the error used in logs and metrics
func ErrorKind(err error) string {
	var connLost *ConnectionLostError
	var auth *AuthenticationError
	var timeout *TimeoutError
	var rateLimit *RateLimitError
	var circuit *CircuitOpenError
	var dup *DuplicateRequestError
	var gwErr *GatewayError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &connLost):
		return "connection_lost"
	case errors.As(err, &auth):
		return "authentication"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &rateLimit):
		return "rate_limit"
	case errors.As(err, &circuit):
		return "circuit_open"
	case errors.As(err, &dup):
		return "duplicate"
	case errors.As(err, &gwErr):
		return "gateway"
	}
	return "other"
}
