package config

import (
	"time"
)

// Config represents the main gatelink configuration. All values are passed
// as plain parameters into the runtime components; nothing in pkg/ reads
// the environment or files directly.
type Config struct {
	// Gateway connection
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Retry and backoff
	Retry RetryConfig `json:"retry" mapstructure:"retry"`

	// Circuit breaker
	Breaker BreakerConfig `json:"breaker" mapstructure:"breaker"`

	// Rate limiting
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`

	// Request deduplication
	Dedup DedupConfig `json:"dedup" mapstructure:"dedup"`

	// Semantic cache
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds connection and identity settings
type GatewayConfig struct {
	URL            string `json:"url" mapstructure:"url"`
	ClientID       string `json:"client_id" mapstructure:"client_id"`
	Token          string `json:"token" mapstructure:"token"`
	IdentityPath   string `json:"identity_path" mapstructure:"identity_path"`
	DefaultTimeout int    `json:"default_timeout_seconds" mapstructure:"default_timeout_seconds"`
	DialTimeout    int    `json:"dial_timeout_seconds" mapstructure:"dial_timeout_seconds"`
	ReconnectBase  int    `json:"reconnect_base_ms" mapstructure:"reconnect_base_ms"`
	ReconnectMax   int    `json:"reconnect_max_ms" mapstructure:"reconnect_max_ms"`
}

// RetryConfig holds per-call retry thresholds
type RetryConfig struct {
	MaxRetries  int `json:"max_retries" mapstructure:"max_retries"`
	BackoffBase int `json:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	BackoffMax  int `json:"backoff_max_ms" mapstructure:"backoff_max_ms"`
}

// BreakerConfig holds circuit breaker thresholds
type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeout  int `json:"recovery_timeout_seconds" mapstructure:"recovery_timeout_seconds"`
	HalfOpenMaxCalls int `json:"half_open_max_calls" mapstructure:"half_open_max_calls"`
}

// RateLimitConfig holds sliding-window throughput limits
type RateLimitConfig struct {
	MaxCalls int `json:"max_calls" mapstructure:"max_calls"`
	Period   int `json:"period_seconds" mapstructure:"period_seconds"`
}

// DedupConfig holds exact-match deduplication settings
type DedupConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	TTL     int  `json:"ttl_seconds" mapstructure:"ttl_seconds"`
	MaxSize int  `json:"max_size" mapstructure:"max_size"`
}

// CacheConfig holds semantic cache settings
type CacheConfig struct {
	Enabled             bool    `json:"enabled" mapstructure:"enabled"`
	SimilarityThreshold float64 `json:"similarity_threshold" mapstructure:"similarity_threshold"`
	TTL                 int     `json:"ttl_seconds" mapstructure:"ttl_seconds"`
	MaxSize             int     `json:"max_size" mapstructure:"max_size"`
	Provider            string  `json:"provider" mapstructure:"provider"` // openai, hash
	OpenAIAPIKey        string  `json:"openai_api_key" mapstructure:"openai_api_key"`
	OpenAIModel         string  `json:"openai_model" mapstructure:"openai_model"`
	PersistPath         string  `json:"persist_path" mapstructure:"persist_path"`
	SweepSchedule       string  `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ClientID:       "gatelink",
			DefaultTimeout: 30,
			DialTimeout:    10,
			ReconnectBase:  1000,
			ReconnectMax:   30000,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BackoffBase: 500,
			BackoffMax:  30000,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30,
			HalfOpenMaxCalls: 2,
		},
		RateLimit: RateLimitConfig{
			MaxCalls: 60,
			Period:   60,
		},
		Dedup: DedupConfig{
			Enabled: true,
			TTL:     5,
			MaxSize: 1000,
		},
		Cache: CacheConfig{
			Enabled:             false,
			SimilarityThreshold: 0.85,
			TTL:                 600,
			MaxSize:             500,
			Provider:            "hash",
			OpenAIModel:         "text-embedding-3-small",
			SweepSchedule:       "@every 1m",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}

// DefaultTimeoutDuration returns the default per-call timeout
func (g GatewayConfig) DefaultTimeoutDuration() time.Duration {
	return time.Duration(g.DefaultTimeout) * time.Second
}

// DialTimeoutDuration returns the dial timeout
func (g GatewayConfig) DialTimeoutDuration() time.Duration {
	return time.Duration(g.DialTimeout) * time.Second
}
