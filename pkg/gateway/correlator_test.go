package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readyCorrelator returns a correlator over a ready channel plus the server
// side of the connection.
func readyCorrelator(t *testing.T) (*Correlator, *websocket.Conn) {
	t.Helper()
	tr, serverConn := dialedChannel(t)
	tr.setState(StateReady)
	return NewCorrelator(tr, zerolog.Nop()), serverConn
}

// readRequest reads the next request frame the correlator put on the wire
func readRequest(t *testing.T, serverConn *websocket.Conn) Frame {
	t.Helper()
	var frame Frame
	require.NoError(t, serverConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, serverConn.ReadJSON(&frame))
	require.Equal(t, FrameTypeRequest, frame.Type)
	return frame
}

func TestCorrelator_Call(t *testing.T) {
	t.Run("should deliver the matched response payload", func(t *testing.T) {
		c, serverConn := readyCorrelator(t)

		go func() {
			req := readRequest(t, serverConn)
			_ = serverConn.WriteJSON(Frame{
				Type: FrameTypeResponse, ID: req.ID, Payload: json.RawMessage(`{"answer":42}`),
			})
		}()

		go pumpResponses(c)

		result, err := c.Call(context.Background(), "agent.run", json.RawMessage(`{}`), 2*time.Second)
		require.NoError(t, err)
		assert.JSONEq(t, `{"answer":42}`, string(result))
		assert.Zero(t, c.PendingCount())
	})

	t.Run("should map a wire error to a typed error", func(t *testing.T) {
		c, serverConn := readyCorrelator(t)

		go func() {
			req := readRequest(t, serverConn)
			_ = serverConn.WriteJSON(Frame{
				Type: FrameTypeResponse, ID: req.ID,
				Error: &WireError{Code: CodeInvalidParams, Message: "missing field"},
			})
		}()
		go pumpResponses(c)

		_, err := c.Call(context.Background(), "agent.run", json.RawMessage(`{}`), 2*time.Second)
		var gwErr *GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, CodeInvalidParams, gwErr.Code)
	})

	t.Run("should time out when no response arrives", func(t *testing.T) {
		c, serverConn := readyCorrelator(t)

		go func() { _ = readRequest(t, serverConn) }()

		_, err := c.Call(context.Background(), "agent.run", json.RawMessage(`{}`), 100*time.Millisecond)
		var timeoutErr *TimeoutError
		require.True(t, errors.As(err, &timeoutErr))
		assert.Equal(t, "agent.run", timeoutErr.Method)
		assert.Zero(t, c.PendingCount(), "timed-out call must be forgotten")
	})

	t.Run("should surface context cancellation", func(t *testing.T) {
		c, serverConn := readyCorrelator(t)

		go func() { _ = readRequest(t, serverConn) }()

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(30 * time.Millisecond)
			cancel()
		}()

		_, err := c.Call(ctx, "agent.run", json.RawMessage(`{}`), 2*time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("should fail with connection lost when the send fails", func(t *testing.T) {
		tr, _ := dialedChannel(t)
		// Channel never reached ready; Send is rejected.
		c := NewCorrelator(tr, zerolog.Nop())

		_, err := c.Call(context.Background(), "agent.run", json.RawMessage(`{}`), time.Second)
		var connLost *ConnectionLostError
		require.True(t, errors.As(err, &connLost))
		assert.Zero(t, c.PendingCount())
	})
}

// pumpResponses feeds inbound frames from one correlator's transport into
// Resolve, mirroring the client's read pump.
func pumpResponses(c *Correlator) {
	for {
		frame, err := c.transport.ReadFrame(time.Now().Add(5 * time.Second))
		if err != nil {
			return
		}
		if frame.Type == FrameTypeResponse {
			c.Resolve(frame)
		}
	}
}

func TestCorrelator_Resolve(t *testing.T) {
	t.Run("should drop responses for unknown ids", func(t *testing.T) {
		c, _ := readyCorrelator(t)

		// Late or duplicate responses must be ignored without side effects.
		c.Resolve(&Frame{Type: FrameTypeResponse, ID: "never-seen", Payload: json.RawMessage(`1`)})
		assert.Zero(t, c.PendingCount())
	})

	t.Run("should drop the late response after a timeout", func(t *testing.T) {
		c, serverConn := readyCorrelator(t)

		idCh := make(chan string, 1)
		go func() {
			req := readRequest(t, serverConn)
			idCh <- req.ID
		}()

		_, err := c.Call(context.Background(), "agent.run", json.RawMessage(`{}`), 50*time.Millisecond)
		var timeoutErr *TimeoutError
		require.True(t, errors.As(err, &timeoutErr))

		// The response arrives after the caller gave up.
		c.Resolve(&Frame{Type: FrameTypeResponse, ID: <-idCh, Payload: json.RawMessage(`"late"`)})
		assert.Zero(t, c.PendingCount())
	})
}

func TestCorrelator_FailAll(t *testing.T) {
	c, serverConn := readyCorrelator(t)

	const inFlight = 3
	go func() {
		for i := 0; i < inFlight; i++ {
			_ = readRequest(t, serverConn)
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, inFlight)
	for i := 0; i < inFlight; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Call(context.Background(), "agent.run", json.RawMessage(`{}`), 5*time.Second)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return c.PendingCount() == inFlight }, 2*time.Second, 5*time.Millisecond)

	c.FailAll(&ConnectionLostError{Cause: errors.New("socket closed")})
	wg.Wait()
	close(errs)

	count := 0
	for err := range errs {
		var connLost *ConnectionLostError
		require.True(t, errors.As(err, &connLost), "got %v", err)
		count++
	}
	assert.Equal(t, inFlight, count)
	assert.Zero(t, c.PendingCount())
}

func TestCorrelator_ConcurrentCalls(t *testing.T) {
	c, serverConn := readyCorrelator(t)

	// Answer every request with its own id, out of order by deferring the
	// first response until the rest have been answered.
	go func() {
		frames := make([]Frame, 0, 5)
		for i := 0; i < 5; i++ {
			frames = append(frames, readRequest(t, serverConn))
		}
		for i := len(frames) - 1; i >= 0; i-- {
			payload, _ := json.Marshal(map[string]string{"method": frames[i].Method})
			_ = serverConn.WriteJSON(Frame{Type: FrameTypeResponse, ID: frames[i].ID, Payload: payload})
		}
	}()
	go pumpResponses(c)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		method := "agent.op" + string(rune('a'+i))
		go func() {
			defer wg.Done()
			result, err := c.Call(context.Background(), method, json.RawMessage(`{}`), 5*time.Second)
			require.NoError(t, err)
			assert.JSONEq(t, `{"method":"`+method+`"}`, string(result))
		}()
	}
	wg.Wait()
	assert.Zero(t, c.PendingCount())
}
