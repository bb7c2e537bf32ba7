package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// run is the reconnect supervisor: it owns the connect → authenticate →
// ready → pump lifecycle and is the only goroutine that mutates the
// transport state. On channel loss it fails every in-flight request with a
// ConnectionLostError (callers decide whether to retry), backs off with
// jitter, and tries again. The attempt counter resets on every successful
// ready transition.
func (c *Client) run() {
	defer c.wg.Done()

	attempt := 0
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		err := c.connectOnce()
		if err == nil {
			attempt = 0
			err = c.pump()
		}

		c.markNotReady()
		c.clearSession()
		c.transport.Disconnect()

		select {
		case <-c.closed:
			return
		default:
		}

		c.transport.setState(StateReconnecting)
		c.correlator.FailAll(&ConnectionLostError{Cause: err})

		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			// Not retried with the same credential by any caller, but the
			// supervisor keeps trying: credentials may be rotated externally
			// between attempts.
			c.logger.Error().Err(err).Msg("Authentication failed, backing off")
			if c.metrics != nil {
				c.metrics.AuthFailuresTotal.Inc()
			}
		}

		delay := backoffDelay(attempt, c.cfg.Reconnect.Base, c.cfg.Reconnect.Max, c.cfg.Reconnect.Jitter)
		attempt++

		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Connection lost, reconnecting")
		if c.metrics != nil {
			c.metrics.ReconnectsTotal.Inc()
		}

		select {
		case <-time.After(delay):
		case <-c.closed:
			return
		}
	}
}

// connectOnce dials, authenticates, and marks the channel ready
func (c *Client) connectOnce() error {
	dialCtx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	err := c.transport.Dial(dialCtx)
	cancel()
	if err != nil {
		return err
	}

	session, err := c.auth.Perform(c.transport)
	if err != nil {
		return err
	}

	c.sessionMu.Lock()
	c.session = session
	c.sessionMu.Unlock()

	c.transport.setState(StateReady)
	if c.metrics != nil {
		c.metrics.ConnectionState.Set(float64(StateReady))
	}
	c.markReady()
	// The read pump is not running yet; announce subscriptions from a
	// goroutine so their responses can be consumed once it is.
	go c.resubscribe()

	c.logger.Info().Str("url", c.cfg.URL).Msg("Gateway channel ready")
	return nil
}

// pump reads inbound frames until the connection fails, routing correlated
// responses to their waiting callers and events to subscribers.
func (c *Client) pump() error {
	for {
		frame, err := c.transport.ReadFrame(time.Time{})
		if err != nil {
			return err
		}

		switch frame.Type {
		case FrameTypeResponse:
			c.correlator.Resolve(frame)

		case FrameTypeEvent:
			if frame.Event == EventConnectChallenge {
				continue
			}
			c.subs.Dispatch(EventMessage{
				Event:     frame.Event,
				Seq:       frame.Seq,
				Data:      frame.Payload,
				Timestamp: frame.TS,
			})
			if c.metrics != nil {
				c.metrics.EventsDispatchedTotal.Inc()
			}

		default:
			c.logger.Warn().Str("type", frame.Type).Msg("Ignoring unknown frame type")
		}
	}
}

// resubscribe reissues every active event subscription after a reconnect.
// In-flight calls are never replayed; that is the caller's decision via the
// retry policy.
func (c *Client) resubscribe() {
	for _, eventType := range c.subs.ActiveTypes() {
		if err := c.announceSubscription(eventType); err != nil {
			c.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to resubscribe")
		}
	}
}

// announceSubscription tells the gateway to start delivering an event type
func (c *Client) announceSubscription(eventType string) error {
	params, err := json.Marshal(map[string]interface{}{
		"events": []string{eventType},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.correlator.Call(ctx, "subscribe", params, 5*time.Second)
	return err
}

// markReady unblocks callers waiting for the channel
func (c *Client) markReady() {
	c.readyMu.Lock()
	if !c.ready {
		c.ready = true
		close(c.readyCh)
	}
	c.readyMu.Unlock()
}

// markNotReady makes subsequent waiters block until the next ready cycle
func (c *Client) markNotReady() {
	c.readyMu.Lock()
	if c.ready {
		c.ready = false
		c.readyCh = make(chan struct{})
	}
	c.readyMu.Unlock()
	if c.metrics != nil {
		c.metrics.ConnectionState.Set(float64(c.transport.State()))
	}
}

// awaitReady blocks until the channel is ready, the context is done, or the
// client is closed. Calls attempted outside the ready state queue here
// behind the next successful transition, failing fast per the caller's
// timeout.
func (c *Client) awaitReady(ctx context.Context) error {
	for {
		select {
		case <-c.closed:
			return ErrClientClosed
		default:
		}

		c.readyMu.Lock()
		ready := c.ready
		ch := c.readyCh
		c.readyMu.Unlock()

		if ready && c.transport.State() == StateReady {
			return nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return ErrClientClosed
		}
	}
}
