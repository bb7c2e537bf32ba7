package gateway

import (
	"encoding/json"
	"time"
)

// ConnectionState represents the lifecycle state of the transport channel
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateReconnecting
	StateClosed
)

// String returns the lowercase name of the state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Frame types on the wire
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Frame is a single protocol frame exchanged with the gateway
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	TS      int64           `json:"ts,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// WireError is the error object carried in a response frame
type WireError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable,omitempty"`
	RetryAfterMS int64  `json:"retryAfterMs,omitempty"`
}

// Wire error codes emitted by the gateway
const (
	CodeAuthFailed    = "AUTH_FAILED"
	CodeRateLimited   = "RATE_LIMITED"
	CodeMethodUnknown = "METHOD_NOT_FOUND"
	CodeInvalidParams = "INVALID_PARAMS"
	CodeInternal      = "INTERNAL"
)

// Well-known events during the connect handshake
const (
	EventConnectChallenge = "connect.challenge"
)

// challengePayload is the connect.challenge event payload
type challengePayload struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

// connectParams is sent as the params of the "connect" request
type connectParams struct {
	MinProtocol int           `json:"minProtocol"`
	MaxProtocol int           `json:"maxProtocol"`
	Client      connectClient `json:"client"`
	Device      connectDevice `json:"device"`
	Auth        *connectAuth  `json:"auth,omitempty"`
}

type connectClient struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

// connectDevice carries the device identity proof: the public key and an
// ed25519 signature over the versioned challenge payload.
type connectDevice struct {
	PublicKey      string `json:"publicKey"`
	Signature      string `json:"signature"`
	SignedAt       int64  `json:"signedAt"`
	PayloadVersion string `json:"payloadVersion"`
}

type connectAuth struct {
	Token string `json:"token,omitempty"`
}

// connectResult is the payload of a successful connect response
type connectResult struct {
	Token     string `json:"token"`
	Protocol  int    `json:"protocol,omitempty"`
	ServerID  string `json:"serverId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// AuthSession holds the session established by the connect handshake.
// It is invalidated on every reconnect and re-derived.
type AuthSession struct {
	Token         string
	SessionID     string
	EstablishedAt time.Time
}

// EventMessage is a gateway-initiated event delivered to subscribers
type EventMessage struct {
	Event     string          `json:"event"`
	Seq       int64           `json:"seq,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
}
