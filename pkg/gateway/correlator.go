package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// callOutcome is the single value delivered to a waiting caller
type callOutcome struct {
	payload json.RawMessage
	err     error
}

// pendingCall tracks one in-flight request. Exactly one outcome is ever
// written to slot; resolve/fail/cancel all go through takeOwnership so the
// single-writer guarantee holds regardless of which side wins the race.
type pendingCall struct {
	id          string
	method      string
	submittedAt time.Time
	deadline    time.Time
	slot        chan callOutcome
}

// Correlator assigns ids to outgoing calls, matches inbound responses to
// the waiting caller, and enforces per-call deadlines.
type Correlator struct {
	transport *TransportChannel
	logger    zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
}

// NewCorrelator creates a correlator writing through the given transport
func NewCorrelator(transport *TransportChannel, logger zerolog.Logger) *Correlator {
	return &Correlator{
		transport: transport,
		logger:    logger.With().Str("component", "correlator").Logger(),
		pending:   make(map[string]*pendingCall),
	}
}

// Call sends one request and waits for its response, the timeout, or
// context cancellation. On local timeout the remote side may still be
// processing; a late response for the forgotten id is dropped in Resolve.
func (c *Correlator) Call(ctx context.Context, method string, params json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate request id: %w", err)
	}

	now := time.Now()
	call := &pendingCall{
		id:          id,
		method:      method,
		submittedAt: now,
		deadline:    now.Add(timeout),
		slot:        make(chan callOutcome, 1),
	}

	c.mu.Lock()
	c.pending[id] = call
	c.mu.Unlock()

	frame := &Frame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: params,
	}
	if err := c.transport.Send(frame); err != nil {
		c.takeOwnership(id)
		return nil, &ConnectionLostError{Cause: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-call.slot:
		return outcome.payload, outcome.err

	case <-timer.C:
		if c.takeOwnership(id) {
			return nil, &TimeoutError{Method: method, Elapsed: time.Since(now)}
		}
		// A response won the race; the slot already holds the outcome.
		outcome := <-call.slot
		return outcome.payload, outcome.err

	case <-ctx.Done():
		if c.takeOwnership(id) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &TimeoutError{Method: method, Elapsed: time.Since(now)}
			}
			return nil, ctx.Err()
		}
		outcome := <-call.slot
		return outcome.payload, outcome.err
	}
}

// Resolve delivers an inbound response frame to its waiting caller.
// A frame whose id is unknown (already timed out, cancelled, or failed on
// connection loss) is silently dropped.
func (c *Correlator) Resolve(frame *Frame) {
	c.mu.Lock()
	call, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug().Str("requestId", frame.ID).Msg("Dropping late response")
		return
	}

	if frame.Error != nil {
		call.slot <- callOutcome{err: errorFromWire(frame.Error)}
		return
	}
	call.slot <- callOutcome{payload: frame.Payload}
}

// FailAll resolves every pending request with the given error. Called by the
// reconnect supervisor when the channel is lost.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	failed := make([]*pendingCall, 0, len(c.pending))
	for id, call := range c.pending {
		failed = append(failed, call)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, call := range failed {
		call.slot <- callOutcome{err: err}
	}

	if len(failed) > 0 {
		c.logger.Warn().Int("count", len(failed)).Msg("Failed in-flight requests")
	}
}

// PendingCount returns the number of in-flight requests
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// takeOwnership removes the call from the pending map and reports whether
// the caller now owns the outcome. Returning false means another writer
// already resolved the slot.
func (c *Correlator) takeOwnership(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; ok {
		delete(c.pending, id)
		return true
	}
	return false
}
