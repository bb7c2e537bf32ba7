package gateway

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	protocolVersion  = 1
	handshakeTimeout = 10 * time.Second
)

// AuthHandshake performs the challenge-response identity proof immediately
// after the channel opens, before any application call is allowed.
type AuthHandshake struct {
	identity IdentitySource
	clientID string
	version  string
	token    string
	logger   zerolog.Logger
}

// IdentitySource yields the current device identity. Implementations may
// reload key material between reconnect attempts when credentials are
// rotated externally.
type IdentitySource interface {
	Identity() (*DeviceIdentity, error)
}

// StaticIdentity is an IdentitySource that always returns the same keypair
type StaticIdentity struct {
	Device *DeviceIdentity
}

// Identity returns the fixed device identity
func (s *StaticIdentity) Identity() (*DeviceIdentity, error) {
	if s.Device == nil {
		return nil, fmt.Errorf("no device identity configured")
	}
	return s.Device, nil
}

// AuthConfig holds handshake configuration
type AuthConfig struct {
	Identity IdentitySource
	ClientID string
	Version  string
	Token    string
	Logger   zerolog.Logger
}

// NewAuthHandshake creates a handshake helper bound to a device identity
func NewAuthHandshake(cfg AuthConfig) (*AuthHandshake, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("identity source is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gatelink"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	return &AuthHandshake{
		identity: cfg.Identity,
		clientID: cfg.ClientID,
		version:  cfg.Version,
		token:    cfg.Token,
		logger:   cfg.Logger.With().Str("component", "auth").Logger(),
	}, nil
}

// Perform runs the handshake on an authenticating channel: wait for the
// connect.challenge event, sign its nonce, send the connect request, and
// wait for the correlated response. Events arriving during the handshake
// are skipped. A rejection surfaces as an AuthenticationError and is never
// retried with the same credentials by the retry policy; the reconnect
// supervisor still backs off and tries again because key material may be
// rotated between attempts.
func (a *AuthHandshake) Perform(t *TransportChannel) (*AuthSession, error) {
	device, err := a.identity.Identity()
	if err != nil {
		return nil, &AuthenticationError{Reason: fmt.Sprintf("no device identity: %v", err)}
	}

	deadline := time.Now().Add(handshakeTimeout)

	challenge, err := a.readChallenge(t, deadline)
	if err != nil {
		return nil, err
	}

	signedAt := time.Now().Unix()
	params := connectParams{
		MinProtocol: protocolVersion,
		MaxProtocol: protocolVersion,
		Client: connectClient{
			ID:       a.clientID,
			Version:  a.version,
			Platform: runtime.GOOS,
			Mode:     "backend",
		},
		Device: connectDevice{
			PublicKey:      device.PublicKeyString(),
			Signature:      device.SignChallenge(challenge.Nonce, signedAt),
			SignedAt:       signedAt,
			PayloadVersion: ChallengePayloadVersion,
		},
	}
	if a.token != "" {
		params.Auth = &connectAuth{Token: a.token}
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connect params: %w", err)
	}

	reqID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate request id: %w", err)
	}

	req := &Frame{
		Type:   FrameTypeRequest,
		ID:     reqID,
		Method: "connect",
		Params: paramsJSON,
	}
	if err := t.writeFrame(req); err != nil {
		return nil, fmt.Errorf("failed to send connect request: %w", err)
	}

	return a.readConnectResult(t, reqID, deadline)
}

// readChallenge waits for the connect.challenge event
func (a *AuthHandshake) readChallenge(t *TransportChannel, deadline time.Time) (*challengePayload, error) {
	frame, err := t.ReadFrame(deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to read challenge: %w", err)
	}
	if frame.Type != FrameTypeEvent || frame.Event != EventConnectChallenge {
		return nil, &AuthenticationError{
			Reason: fmt.Sprintf("expected %s, got %s/%s", EventConnectChallenge, frame.Type, frame.Event),
		}
	}

	var challenge challengePayload
	if err := json.Unmarshal(frame.Payload, &challenge); err != nil {
		return nil, fmt.Errorf("failed to parse challenge payload: %w", err)
	}
	if challenge.Nonce == "" {
		return nil, &AuthenticationError{Reason: "challenge nonce is empty"}
	}

	a.logger.Debug().Msg("Received connect challenge")
	return &challenge, nil
}

// readConnectResult waits for the connect response, skipping unrelated events
func (a *AuthHandshake) readConnectResult(t *TransportChannel, reqID string, deadline time.Time) (*AuthSession, error) {
	for {
		if time.Now().After(deadline) {
			return nil, &AuthenticationError{Reason: "handshake timed out"}
		}

		frame, err := t.ReadFrame(deadline)
		if err != nil {
			return nil, fmt.Errorf("failed to read connect response: %w", err)
		}

		if frame.Type != FrameTypeResponse || frame.ID != reqID {
			continue
		}

		if frame.Error != nil {
			return nil, &AuthenticationError{Reason: frame.Error.Message}
		}
		if frame.OK != nil && !*frame.OK {
			return nil, &AuthenticationError{Reason: "connect rejected"}
		}

		var result connectResult
		if len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, &result); err != nil {
				return nil, fmt.Errorf("failed to parse connect result: %w", err)
			}
		}

		a.logger.Info().Str("sessionId", result.SessionID).Msg("Authenticated with gateway")
		return &AuthSession{
			Token:         result.Token,
			SessionID:     result.SessionID,
			EstablishedAt: time.Now(),
		}, nil
	}
}
