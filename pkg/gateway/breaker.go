package gateway

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CircuitState represents the health state of one logical target
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the lowercase name of the circuit state
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// BreakerConfig holds circuit breaker thresholds
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig returns the default breaker thresholds
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// circuit is the per-target state machine
type circuit struct {
	state             CircuitState
	failures          int
	openedAt          time.Time
	halfOpenPermitted int
	halfOpenSuccesses int
}

// CircuitBreaker tracks failures per logical target and short-circuits calls
// to targets judged unhealthy. While a circuit is open no call reaches the
// transport until the recovery timeout elapses.
type CircuitBreaker struct {
	cfg    BreakerConfig
	logger zerolog.Logger

	mu      sync.Mutex
	targets map[string]*circuit
	now     func() time.Time
}

// NewCircuitBreaker creates a breaker with the given thresholds
func NewCircuitBreaker(cfg BreakerConfig, logger zerolog.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig().RecoveryTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = DefaultBreakerConfig().HalfOpenMaxCalls
	}

	return &CircuitBreaker{
		cfg:     cfg,
		logger:  logger.With().Str("component", "breaker").Logger(),
		targets: make(map[string]*circuit),
		now:     time.Now,
	}
}

// Allow reports whether a call to the target may proceed. While open it
// returns a CircuitOpenError without touching the network; after the
// recovery timeout the circuit half-opens and admits a bounded number of
// trial calls.
func (b *CircuitBreaker) Allow(target string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(target)
	now := b.now()

	switch c.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		elapsed := now.Sub(c.openedAt)
		if elapsed < b.cfg.RecoveryTimeout {
			return &CircuitOpenError{Target: target, RetryIn: b.cfg.RecoveryTimeout - elapsed}
		}
		c.state = CircuitHalfOpen
		c.halfOpenPermitted = 1
		c.halfOpenSuccesses = 0
		b.logger.Info().Str("target", target).Msg("Circuit half-open, admitting trial call")
		return nil

	case CircuitHalfOpen:
		if c.halfOpenPermitted >= b.cfg.HalfOpenMaxCalls {
			return &CircuitOpenError{Target: target, RetryIn: b.cfg.RecoveryTimeout}
		}
		c.halfOpenPermitted++
		return nil
	}
	return nil
}

// RecordSuccess reports a successful call against the target
func (b *CircuitBreaker) RecordSuccess(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(target)
	switch c.state {
	case CircuitClosed:
		c.failures = 0
	case CircuitHalfOpen:
		c.halfOpenSuccesses++
		if c.halfOpenSuccesses >= b.cfg.HalfOpenMaxCalls {
			c.state = CircuitClosed
			c.failures = 0
			b.logger.Info().Str("target", target).Msg("Circuit closed after successful trials")
		}
	}
}

// RecordFailure reports a failed call against the target. Reaching the
// failure threshold opens the circuit; any failure during half-open reopens
// it and restarts the recovery timer.
func (b *CircuitBreaker) RecordFailure(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(target)
	switch c.state {
	case CircuitClosed:
		c.failures++
		if c.failures >= b.cfg.FailureThreshold {
			c.state = CircuitOpen
			c.openedAt = b.now()
			b.logger.Warn().
				Str("target", target).
				Int("failures", c.failures).
				Msg("Circuit opened")
		}
	case CircuitHalfOpen:
		c.state = CircuitOpen
		c.openedAt = b.now()
		c.failures = b.cfg.FailureThreshold
		b.logger.Warn().Str("target", target).Msg("Circuit reopened after trial failure")
	}
}

// RecordNeutral reports an outcome that says nothing about the target's
// health, such as a rate-limited attempt or a caller cancellation. During
// half-open the trial permit is released so the circuit cannot end up with
// every permit consumed and no recorded outcome to move it on.
func (b *CircuitBreaker) RecordNeutral(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(target)
	if c.state == CircuitHalfOpen && c.halfOpenPermitted > 0 {
		c.halfOpenPermitted--
	}
}

// State returns the current circuit state for the target
func (b *CircuitBreaker) State(target string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuitFor(target).state
}

// States returns a snapshot of every tracked target's state
func (b *CircuitBreaker) States() map[string]CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make(map[string]CircuitState, len(b.targets))
	for target, c := range b.targets {
		snapshot[target] = c.state
	}
	return snapshot
}

func (b *CircuitBreaker) circuitFor(target string) *circuit {
	c, ok := b.targets[target]
	if !ok {
		c = &circuit{state: CircuitClosed}
		b.targets[target] = c
	}
	return c
}
