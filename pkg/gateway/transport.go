package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// TransportChannel owns the single physical WebSocket connection to the
// gateway. All outbound writes are serialized through one mutex; the
// connection state is mutated only by the reconnect supervisor.
type TransportChannel struct {
	url         string
	dialTimeout time.Duration
	logger      zerolog.Logger

	stateMu sync.RWMutex
	state   ConnectionState

	writeMu sync.Mutex
	connMu  sync.RWMutex
	conn    *websocket.Conn
}

// TransportConfig holds transport channel configuration
type TransportConfig struct {
	URL         string
	DialTimeout time.Duration
	Logger      zerolog.Logger
}

// NewTransportChannel creates a disconnected transport channel
func NewTransportChannel(cfg TransportConfig) (*TransportChannel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("gateway URL is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	return &TransportChannel{
		url:         cfg.URL,
		dialTimeout: cfg.DialTimeout,
		logger:      cfg.Logger.With().Str("component", "transport").Logger(),
		state:       StateDisconnected,
	}, nil
}

// State returns the current connection state
func (t *TransportChannel) State() ConnectionState {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.state
}

// setState transitions the channel state. Closed is terminal.
func (t *TransportChannel) setState(next ConnectionState) {
	t.stateMu.Lock()
	prev := t.state
	if prev == StateClosed {
		t.stateMu.Unlock()
		return
	}
	t.state = next
	t.stateMu.Unlock()

	if prev != next {
		t.logger.Debug().
			Str("from", prev.String()).
			Str("to", next.String()).
			Msg("Connection state changed")
	}
}

// Dial establishes the WebSocket connection. On success the channel enters
// the authenticating state; application frames are still rejected until the
// handshake completes and the supervisor marks the channel ready.
func (t *TransportChannel) Dial(ctx context.Context) error {
	if t.State() == StateClosed {
		return ErrClientClosed
	}
	t.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: t.dialTimeout}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		t.setState(StateDisconnected)
		return fmt.Errorf("ws dial failed: %w", err)
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	t.setState(StateAuthenticating)
	return nil
}

// Send writes an application frame. Only the ready state accepts outbound
// application frames.
func (t *TransportChannel) Send(frame *Frame) error {
	if t.State() != StateReady {
		return ErrNotReady
	}
	return t.writeFrame(frame)
}

// writeFrame serializes and writes a frame regardless of state. Used by the
// handshake before the channel is ready. The write mutex keeps concurrent
// callers from interleaving writes on the socket.
func (t *TransportChannel) writeFrame(frame *Frame) error {
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()
	if conn == nil {
		return ErrNotReady
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ReadFrame blocks until the next inbound frame. A deadline of zero clears
// any previously set read deadline.
func (t *TransportChannel) ReadFrame(deadline time.Time) (*Frame, error) {
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()
	if conn == nil {
		return nil, ErrNotReady
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}
	return &frame, nil
}

// Disconnect tears down the socket without closing the channel itself.
// Called by the supervisor when entering the reconnecting state.
func (t *TransportChannel) Disconnect() {
	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Close tears down the socket and moves the channel to the terminal closed
// state. No further transitions are possible.
func (t *TransportChannel) Close() {
	t.setState(StateClosed)
	t.Disconnect()
}
