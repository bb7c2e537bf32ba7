package gateway

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFromWire(t *testing.T) {
	t.Run("should return nil for a nil wire error", func(t *testing.T) {
		assert.NoError(t, errorFromWire(nil))
	})

	t.Run("should map auth failures", func(t *testing.T) {
		err := errorFromWire(&WireError{Code: CodeAuthFailed, Message: "bad signature"})

		var authErr *AuthenticationError
		require.True(t, errors.As(err, &authErr))
		assert.Equal(t, "bad signature", authErr.Reason)
	})

	t.Run("should map rate limits with the server hint", func(t *testing.T) {
		err := errorFromWire(&WireError{Code: CodeRateLimited, RetryAfterMS: 1500})

		var rlErr *RateLimitError
		require.True(t, errors.As(err, &rlErr))
		assert.Equal(t, 1500*time.Millisecond, rlErr.RetryAfter)
	})

	t.Run("should map everything else to a gateway error", func(t *testing.T) {
		err := errorFromWire(&WireError{
			Code: "AGENT_BUSY", Message: "try later", Retryable: true, RetryAfterMS: 200,
		})

		var gwErr *GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, "AGENT_BUSY", gwErr.Code)
		assert.True(t, gwErr.Retryable)
		assert.Equal(t, 200*time.Millisecond, gwErr.RetryAfter)
	})
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{nil, "none"},
		{&ConnectionLostError{}, "connection_lost"},
		{&AuthenticationError{Reason: "x"}, "authentication"},
		{&TimeoutError{Method: "echo"}, "timeout"},
		{&RateLimitError{}, "rate_limit"},
		{&CircuitOpenError{Target: "agent"}, "circuit_open"},
		{&DuplicateRequestError{Method: "echo"}, "duplicate"},
		{&GatewayError{Code: "X"}, "gateway"},
		{errors.New("misc"), "other"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, ErrorKind(tc.err), "kind for %v", tc.err)
	}
}

func TestErrorKind_Wrapped(t *testing.T) {
	err := fmt.Errorf("dispatch failed: %w", &ConnectionLostError{Cause: errors.New("eof")})
	assert.Equal(t, "connection_lost", ErrorKind(err))
	assert.True(t, Retryable(err))
}

func TestConnectionLostError_Unwrap(t *testing.T) {
	cause := errors.New("read: connection reset")
	err := &ConnectionLostError{Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")

	assert.Equal(t, "connection lost", (&ConnectionLostError{}).Error())
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&TimeoutError{Method: "echo", Elapsed: 2 * time.Second}).Error(), "echo")
	assert.Contains(t, (&RateLimitError{RetryAfter: time.Second}).Error(), "1s")
	assert.Contains(t, (&CircuitOpenError{Target: "agent", RetryIn: time.Second}).Error(), "agent")
	assert.Contains(t, (&DuplicateRequestError{Method: "echo", Age: time.Second}).Error(), "echo")
	assert.Contains(t, (&GatewayError{Code: "X", Message: "boom"}).Error(), "boom")
}
