package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/gatelink/internal/metrics"
	"github.com/harun/gatelink/pkg/cache"
)

const idempotencyParam = "idempotencyKey"

// ClientConfig holds everything the client runtime needs. All collaborators
// are injected at construction time; there is no hidden global state.
type ClientConfig struct {
	URL      string
	ClientID string
	Version  string
	Token    string
	Identity IdentitySource

	DefaultTimeout time.Duration
	DialTimeout    time.Duration

	Retry     RetryPolicy
	Breaker   BreakerConfig
	RateLimit RateLimitConfig
	Reconnect ReconnectConfig

	Dedup    *cache.Deduplicator
	Semantic *cache.SemanticCache
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// RateLimitConfig bounds outbound call throughput
type RateLimitConfig struct {
	MaxCalls int
	Period   time.Duration
}

// ReconnectConfig shapes the supervisor's backoff between connection attempts
type ReconnectConfig struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Client is the public surface of the runtime: a single shared connection
// that many concurrent logical callers issue correlated calls over.
type Client struct {
	cfg    ClientConfig
	logger zerolog.Logger

	transport  *TransportChannel
	auth       *AuthHandshake
	correlator *Correlator
	breaker    *CircuitBreaker
	limiter    *RateLimiter
	retry      RetryPolicy
	subs       *subscriptionRegistry
	dedup      *cache.Deduplicator
	semantic   *cache.SemanticCache
	metrics    *metrics.Metrics

	readyMu sync.Mutex
	ready   bool
	readyCh chan struct{}

	sessionMu sync.RWMutex
	session   *AuthSession

	closed      chan struct{}
	connectGuard sync.Once
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// NewClient constructs the runtime without connecting. Call Connect to
// establish the channel.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("gateway URL is required")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("device identity is required")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BackoffBase == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Reconnect.Base <= 0 {
		cfg.Reconnect.Base = time.Second
	}
	if cfg.Reconnect.Max <= 0 {
		cfg.Reconnect.Max = 30 * time.Second
	}
	if cfg.Reconnect.Jitter == 0 {
		cfg.Reconnect.Jitter = 0.2
	}

	logger := cfg.Logger.With().Str("component", "gateway-client").Logger()

	transport, err := NewTransportChannel(TransportConfig{
		URL:         cfg.URL,
		DialTimeout: cfg.DialTimeout,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	auth, err := NewAuthHandshake(AuthConfig{
		Identity: cfg.Identity,
		ClientID: cfg.ClientID,
		Version:  cfg.Version,
		Token:    cfg.Token,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		logger:     logger,
		transport:  transport,
		auth:       auth,
		correlator: NewCorrelator(transport, cfg.Logger),
		breaker:    NewCircuitBreaker(cfg.Breaker, cfg.Logger),
		limiter:    NewRateLimiter(cfg.RateLimit.MaxCalls, cfg.RateLimit.Period),
		retry:      cfg.Retry,
		subs:       newSubscriptionRegistry(cfg.Logger),
		dedup:      cfg.Dedup,
		semantic:   cfg.Semantic,
		metrics:    cfg.Metrics,
		readyCh:    make(chan struct{}),
		closed:     make(chan struct{}),
	}
	return c, nil
}

// Connect starts the reconnect supervisor and waits for the channel to
// first become ready. The supervisor keeps reconnecting in the background
// for the life of the client.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}

	c.connectGuard.Do(func() {
		c.wg.Add(1)
		go c.run()
	})
	return c.awaitReady(ctx)
}

// CallOption adjusts one call
type CallOption func(*callOptions)

type callOptions struct {
	timeout        time.Duration
	target         string
	idempotencyKey string
	skipDedup      bool
	agentID        string
	query          string
}

// WithTimeout overrides the default per-call timeout
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithTarget overrides the circuit breaker target for the call. By default
// the target is the method's prefix up to the first dot.
func WithTarget(target string) CallOption {
	return func(o *callOptions) { o.target = target }
}

// WithIdempotencyKey supplies the idempotency token. Callers retrying the
// same logical action reuse it so the gateway can collapse duplicates.
func WithIdempotencyKey(key string) CallOption {
	return func(o *callOptions) { o.idempotencyKey = key }
}

// WithoutDedup exempts the call from exact-match deduplication
func WithoutDedup() CallOption {
	return func(o *callOptions) { o.skipDedup = true }
}

// WithSemanticCache enables approximate-match response caching for the call,
// scoped to the agent. Results for one agent are never served to another.
func WithSemanticCache(agentID, query string) CallOption {
	return func(o *callOptions) {
		o.agentID = agentID
		o.query = query
	}
}

// Call issues one named call over the shared channel and waits for its
// correlated result. The caller receives exactly one of (result, typed
// error). Transient failures are retried per the retry policy; cache hits
// short-circuit before any permission or network work.
func (c *Client) Call(ctx context.Context, method string, params map[string]interface{}, opts ...CallOption) (json.RawMessage, error) {
	select {
	case <-c.closed:
		return nil, ErrClientClosed
	default:
	}

	o := callOptions{timeout: c.cfg.DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.target == "" {
		o.target = methodTarget(method)
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	// Exact-match suppression on the caller's original params, before the
	// idempotency token makes every submission unique.
	if c.dedup != nil && !o.skipDedup {
		if dup, age := c.dedup.CheckAndMark(method, params); dup {
			if c.metrics != nil {
				c.metrics.DedupHitsTotal.Inc()
			}
			c.countErr(method, &DuplicateRequestError{Method: method, Age: age})
			return nil, &DuplicateRequestError{Method: method, Age: age}
		}
	}

	if c.semantic != nil && o.agentID != "" {
		result, hit, err := c.semantic.Get(ctx, o.agentID, o.query)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Semantic cache lookup failed")
		} else if hit {
			if c.metrics != nil {
				c.metrics.SemanticHitsTotal.Inc()
				c.metrics.CallsTotal.WithLabelValues(method, "cache_hit").Inc()
			}
			return result, nil
		} else if c.metrics != nil {
			c.metrics.SemanticMissesTotal.Inc()
		}
	}

	if o.idempotencyKey == "" {
		o.idempotencyKey = uuid.NewString()
	}
	// The token goes into a copy: the caller's map is never mutated, so a
	// resubmission of the same map still hashes to the same dedup key.
	wire := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		wire[k] = v
	}
	if _, ok := wire[idempotencyParam]; !ok {
		wire[idempotencyParam] = o.idempotencyKey
	}
	paramsJSON, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	result, err := c.dispatch(ctx, method, paramsJSON, o)
	if err != nil {
		c.countErr(method, err)
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.CallsTotal.WithLabelValues(method, "ok").Inc()
	}
	if c.semantic != nil && o.agentID != "" {
		if err := c.semantic.Set(ctx, o.agentID, o.query, result); err != nil {
			c.logger.Warn().Err(err).Msg("Semantic cache store failed")
		}
	}
	return result, nil
}

// dispatch runs the permission/send/retry loop for one logical call. The
// same params bytes, idempotency token included, are resubmitted on retry.
func (c *Client) dispatch(ctx context.Context, method string, paramsJSON json.RawMessage, o callOptions) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := c.breaker.Allow(o.target); err != nil {
			if c.metrics != nil {
				c.metrics.CircuitOpenTotal.WithLabelValues(o.target).Inc()
			}
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
		result, err := c.attempt(attemptCtx, method, paramsJSON, o.timeout)
		cancel()

		if err == nil {
			c.breaker.RecordSuccess(o.target)
			return result, nil
		}
		lastErr = err

		if countsAgainstTarget(err) {
			c.breaker.RecordFailure(o.target)
		} else {
			c.breaker.RecordNeutral(o.target)
		}

		if !c.retry.Retryable(err) || attempt >= c.retry.MaxRetries {
			return nil, lastErr
		}

		delay := c.retry.Delay(attempt, err)
		c.logger.Debug().
			Str("method", method).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Str("error", ErrorKind(err)).
			Msg("Retrying call")
		if c.metrics != nil {
			c.metrics.RetriesTotal.Inc()
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, lastErr
		case <-c.closed:
			return nil, ErrClientClosed
		}
	}
}

// attempt performs one send: wait for ready, acquire a rate slot, then run
// the correlated exchange.
func (c *Client) attempt(ctx context.Context, method string, paramsJSON json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	start := time.Now()

	if err := c.awaitReady(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Method: method, Elapsed: time.Since(start)}
		}
		return nil, err
	}

	if !c.limiter.TryAcquire() {
		if c.metrics != nil {
			c.metrics.RateLimitWaits.Inc()
		}
		if err := c.limiter.Acquire(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &TimeoutError{Method: method, Elapsed: time.Since(start)}
			}
			return nil, err
		}
	}

	remaining := timeout - time.Since(start)
	if remaining <= 0 {
		return nil, &TimeoutError{Method: method, Elapsed: time.Since(start)}
	}

	if c.metrics != nil {
		c.metrics.PendingRequests.Inc()
		defer c.metrics.PendingRequests.Dec()
		defer func() {
			c.metrics.CallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}()
	}

	return c.correlator.Call(ctx, method, paramsJSON, remaining)
}

// Subscribe registers interest in a gateway event type. The subscription is
// announced to the gateway when the channel is ready and reissued by the
// supervisor after every reconnect.
func (c *Client) Subscribe(eventType string) (*Subscription, error) {
	select {
	case <-c.closed:
		return nil, ErrClientClosed
	default:
	}

	sub := c.subs.Subscribe(eventType)

	if c.transport.State() == StateReady {
		if err := c.announceSubscription(eventType); err != nil {
			c.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to announce subscription")
		}
	}
	return sub, nil
}

// Status is a point-in-time health snapshot of the runtime
type Status struct {
	State           string                  `json:"state"`
	SessionID       string                  `json:"session_id,omitempty"`
	Authenticated   bool                    `json:"authenticated"`
	PendingRequests int                     `json:"pending_requests"`
	Subscriptions   int                     `json:"subscriptions"`
	Circuits        map[string]CircuitState `json:"circuits,omitempty"`
	RateWindow      int                     `json:"rate_window"`
	DedupEntries    int                     `json:"dedup_entries"`
	CacheEntries    int                     `json:"cache_entries"`
	CacheHits       int64                   `json:"cache_hits"`
	CacheMisses     int64                   `json:"cache_misses"`
}

// Health returns the current runtime status
func (c *Client) Health() Status {
	s := Status{
		State:           c.transport.State().String(),
		PendingRequests: c.correlator.PendingCount(),
		Subscriptions:   c.subs.Count(),
		Circuits:        c.breaker.States(),
		RateWindow:      c.limiter.InWindow(),
	}

	c.sessionMu.RLock()
	if c.session != nil {
		s.Authenticated = true
		s.SessionID = c.session.SessionID
	}
	c.sessionMu.RUnlock()

	if c.dedup != nil {
		s.DedupEntries = c.dedup.Len()
	}
	if c.semantic != nil {
		s.CacheEntries = c.semantic.Len()
		s.CacheHits, s.CacheMisses = c.semantic.Stats()
	}
	return s
}

// clearSession invalidates the auth session. Every reconnect cycle
// re-derives it.
func (c *Client) clearSession() {
	c.sessionMu.Lock()
	c.session = nil
	c.sessionMu.Unlock()
}

// Session returns the current auth session, nil when not authenticated
func (c *Client) Session() *AuthSession {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.session
}

// State returns the connection state
func (c *Client) State() ConnectionState {
	return c.transport.State()
}

// Close shuts the runtime down. Terminal: the client cannot be reused.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.transport.Close()
		c.correlator.FailAll(ErrClientClosed)
		c.subs.CloseAll()
	})
	c.wg.Wait()
	return nil
}

func (c *Client) countErr(method string, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.CallsTotal.WithLabelValues(method, "error").Inc()
	c.metrics.CallErrorsTotal.WithLabelValues(method, ErrorKind(err)).Inc()
}

// countsAgainstTarget reports whether the failure should be charged to the
// target's circuit. Rate limiting reflects capacity, not target health, and
// duplicates never reached the network.
func countsAgainstTarget(err error) bool {
	switch ErrorKind(err) {
	case "connection_lost", "timeout", "gateway", "authentication":
		return true
	}
	return false
}

// methodTarget derives the breaker target from the method name: the prefix
// up to the first dot, or the whole method when undotted.
func methodTarget(method string) string {
	for i := 0; i < len(method); i++ {
		if method[i] == '.' {
			return method[:i]
		}
	}
	return method
}
