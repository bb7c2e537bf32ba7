package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "gatelink", cfg.Gateway.ClientID)
	assert.Equal(t, 30, cfg.Gateway.DefaultTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60, cfg.RateLimit.MaxCalls)
	assert.True(t, cfg.Dedup.Enabled)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "hash", cfg.Cache.Provider)
	assert.InDelta(t, 0.85, cfg.Cache.SimilarityThreshold, 1e-9)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestGatewayConfig_Durations(t *testing.T) {
	g := GatewayConfig{DefaultTimeout: 30, DialTimeout: 10}
	assert.Equal(t, 30*time.Second, g.DefaultTimeoutDuration())
	assert.Equal(t, 10*time.Second, g.DialTimeoutDuration())
}
