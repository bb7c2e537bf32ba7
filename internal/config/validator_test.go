package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Gateway.URL = "wss://gateway.example.com/ws"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("should accept the defaults with a URL", func(t *testing.T) {
		assert.NoError(t, Validate(validConfig()))
	})

	t.Run("should accept a plain ws URL", func(t *testing.T) {
		cfg := validConfig()
		cfg.Gateway.URL = "ws://localhost:8080/ws"
		assert.NoError(t, Validate(cfg))
	})

	t.Run("should reject a missing gateway URL", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.Error(t, Validate(cfg))
	})

	t.Run("should reject a non-websocket URL", func(t *testing.T) {
		cfg := validConfig()
		cfg.Gateway.URL = "https://gateway.example.com"
		assert.Error(t, Validate(cfg))
	})

	t.Run("should reject an out-of-range similarity threshold", func(t *testing.T) {
		cfg := validConfig()
		cfg.Cache.SimilarityThreshold = 1.5
		require.Error(t, Validate(cfg))

		cfg.Cache.SimilarityThreshold = 0
		assert.Error(t, Validate(cfg))
	})

	t.Run("should reject an unknown cache provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.Cache.Provider = "word2vec"
		assert.Error(t, Validate(cfg))
	})

	t.Run("should reject an unknown log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = "verbose"
		assert.Error(t, Validate(cfg))
	})

	t.Run("should reject excessive retries", func(t *testing.T) {
		cfg := validConfig()
		cfg.Retry.MaxRetries = 100
		assert.Error(t, Validate(cfg))
	})

	t.Run("should reject a zero failure threshold", func(t *testing.T) {
		cfg := validConfig()
		cfg.Breaker.FailureThreshold = 0
		assert.Error(t, Validate(cfg))
	})
}
