package gateway

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandshake(t *testing.T, token string) (*AuthHandshake, *DeviceIdentity) {
	t.Helper()
	identity, err := GenerateIdentity()
	require.NoError(t, err)

	auth, err := NewAuthHandshake(AuthConfig{
		Identity: &StaticIdentity{Device: identity},
		ClientID: "gatelink-test",
		Version:  "0.0.0",
		Token:    token,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return auth, identity
}

func sendChallenge(t *testing.T, serverConn *websocket.Conn, nonce string) {
	t.Helper()
	payload, err := json.Marshal(challengePayload{Nonce: nonce, TS: time.Now().UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, serverConn.WriteJSON(Frame{
		Type: FrameTypeEvent, Event: EventConnectChallenge, Payload: payload,
	}))
}

func TestAuthHandshake_Perform(t *testing.T) {
	t.Run("should establish a session from a valid exchange", func(t *testing.T) {
		auth, identity := newTestHandshake(t, "")
		tr, serverConn := dialedChannel(t)

		go func() {
			sendChallenge(t, serverConn, "nonce-1")

			req := readRequest(t, serverConn)
			require.Equal(t, "connect", req.Method)

			var params connectParams
			require.NoError(t, json.Unmarshal(req.Params, &params))
			assert.Equal(t, identity.PublicKeyString(), params.Device.PublicKey)
			assert.Equal(t, ChallengePayloadVersion, params.Device.PayloadVersion)
			assert.True(t, VerifyChallenge(
				params.Device.PublicKey, "nonce-1", params.Device.Signature, params.Device.SignedAt,
			))

			payload, _ := json.Marshal(connectResult{Token: "session-token", SessionID: "sess-1"})
			ok := true
			_ = serverConn.WriteJSON(Frame{Type: FrameTypeResponse, ID: req.ID, OK: &ok, Payload: payload})
		}()

		session, err := auth.Perform(tr)
		require.NoError(t, err)
		assert.Equal(t, "session-token", session.Token)
		assert.Equal(t, "sess-1", session.SessionID)
		assert.False(t, session.EstablishedAt.IsZero())
	})

	t.Run("should include the shared token when configured", func(t *testing.T) {
		auth, _ := newTestHandshake(t, "shared-secret")
		tr, serverConn := dialedChannel(t)

		go func() {
			sendChallenge(t, serverConn, "nonce-1")

			req := readRequest(t, serverConn)
			var params connectParams
			require.NoError(t, json.Unmarshal(req.Params, &params))
			require.NotNil(t, params.Auth)
			assert.Equal(t, "shared-secret", params.Auth.Token)

			ok := true
			_ = serverConn.WriteJSON(Frame{Type: FrameTypeResponse, ID: req.ID, OK: &ok})
		}()

		_, err := auth.Perform(tr)
		require.NoError(t, err)
	})

	t.Run("should fail when the first frame is not a challenge", func(t *testing.T) {
		auth, _ := newTestHandshake(t, "")
		tr, serverConn := dialedChannel(t)

		go func() {
			_ = serverConn.WriteJSON(Frame{Type: FrameTypeEvent, Event: "agent.status"})
		}()

		_, err := auth.Perform(tr)
		var authErr *AuthenticationError
		assert.True(t, errors.As(err, &authErr))
	})

	t.Run("should fail on an empty nonce", func(t *testing.T) {
		auth, _ := newTestHandshake(t, "")
		tr, serverConn := dialedChannel(t)

		go func() { sendChallenge(t, serverConn, "") }()

		_, err := auth.Perform(tr)
		var authErr *AuthenticationError
		assert.True(t, errors.As(err, &authErr))
	})

	t.Run("should surface a gateway rejection", func(t *testing.T) {
		auth, _ := newTestHandshake(t, "")
		tr, serverConn := dialedChannel(t)

		go func() {
			sendChallenge(t, serverConn, "nonce-1")
			req := readRequest(t, serverConn)
			_ = serverConn.WriteJSON(Frame{
				Type: FrameTypeResponse, ID: req.ID,
				Error: &WireError{Code: CodeAuthFailed, Message: "device not paired"},
			})
		}()

		_, err := auth.Perform(tr)
		var authErr *AuthenticationError
		require.True(t, errors.As(err, &authErr))
		assert.Contains(t, authErr.Reason, "device not paired")
	})

	t.Run("should skip unrelated events while waiting for the result", func(t *testing.T) {
		auth, _ := newTestHandshake(t, "")
		tr, serverConn := dialedChannel(t)

		go func() {
			sendChallenge(t, serverConn, "nonce-1")
			req := readRequest(t, serverConn)

			// Events delivered mid-handshake must not confuse the reader.
			_ = serverConn.WriteJSON(Frame{Type: FrameTypeEvent, Event: "agent.status"})

			ok := true
			_ = serverConn.WriteJSON(Frame{Type: FrameTypeResponse, ID: req.ID, OK: &ok})
		}()

		_, err := auth.Perform(tr)
		require.NoError(t, err)
	})

	t.Run("should fail when the identity source has no key", func(t *testing.T) {
		auth, err := NewAuthHandshake(AuthConfig{
			Identity: &StaticIdentity{},
			Logger:   zerolog.Nop(),
		})
		require.NoError(t, err)

		tr, _ := dialedChannel(t)
		_, err = auth.Perform(tr)
		var authErr *AuthenticationError
		assert.True(t, errors.As(err, &authErr))
	})
}

func TestNewAuthHandshake(t *testing.T) {
	_, err := NewAuthHandshake(AuthConfig{Logger: zerolog.Nop()})
	assert.Error(t, err)
}
