package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/gatelink/internal/config"
	"github.com/harun/gatelink/internal/logger"
	"github.com/harun/gatelink/internal/metrics"
	"github.com/harun/gatelink/pkg/cache"
	"github.com/harun/gatelink/pkg/gateway"
)

// runtime bundles everything a command needs to talk to the gateway
type runtime struct {
	cfg     *config.Config
	log     *logger.Logger
	client  *gateway.Client
	sweeper *cache.Sweeper
	cleanup []func()
}

// buildRuntime wires the full client stack from configuration. Components
// are constructed once here and injected; nothing resolves collaborators
// lazily or from globals.
func buildRuntime() (*runtime, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	logCfg := logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}
	zl := log.GetZerolog()

	rt := &runtime{cfg: cfg, log: log}
	rt.cleanup = append(rt.cleanup, func() { _ = log.Close() })

	identity, err := config.NewIdentityWatcher(cfg.Gateway.IdentityPath, zl)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("device identity at %s: %w (run 'gatelink keygen' first)", cfg.Gateway.IdentityPath, err)
	}
	rt.cleanup = append(rt.cleanup, func() { _ = identity.Close() })

	var dedup *cache.Deduplicator
	if cfg.Dedup.Enabled {
		dedup = cache.NewDeduplicator(cache.DedupConfig{
			TTL:     time.Duration(cfg.Dedup.TTL) * time.Second,
			MaxSize: cfg.Dedup.MaxSize,
		})
	}

	semantic, err := buildSemanticCache(cfg, zl)
	if err != nil {
		rt.close()
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Listen, m.Handler()); err != nil {
				zl.Error().Err(err).Msg("Metrics endpoint failed")
			}
		}()
	}

	client, err := gateway.NewClient(gateway.ClientConfig{
		URL:            cfg.Gateway.URL,
		ClientID:       cfg.Gateway.ClientID,
		Version:        version,
		Token:          cfg.Gateway.Token,
		Identity:       identity,
		DefaultTimeout: cfg.Gateway.DefaultTimeoutDuration(),
		DialTimeout:    cfg.Gateway.DialTimeoutDuration(),
		Retry: gateway.RetryPolicy{
			MaxRetries:  cfg.Retry.MaxRetries,
			BackoffBase: time.Duration(cfg.Retry.BackoffBase) * time.Millisecond,
			BackoffMax:  time.Duration(cfg.Retry.BackoffMax) * time.Millisecond,
			Jitter:      0.2,
		},
		Breaker: gateway.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			RecoveryTimeout:  time.Duration(cfg.Breaker.RecoveryTimeout) * time.Second,
			HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		},
		RateLimit: gateway.RateLimitConfig{
			MaxCalls: cfg.RateLimit.MaxCalls,
			Period:   time.Duration(cfg.RateLimit.Period) * time.Second,
		},
		Reconnect: gateway.ReconnectConfig{
			Base: time.Duration(cfg.Gateway.ReconnectBase) * time.Millisecond,
			Max:  time.Duration(cfg.Gateway.ReconnectMax) * time.Millisecond,
		},
		Dedup:    dedup,
		Semantic: semantic,
		Metrics:  m,
		Logger:   zl,
	})
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.client = client
	rt.cleanup = append(rt.cleanup, func() { _ = client.Close() })

	var sweepables []cache.Sweepable
	if dedup != nil {
		sweepables = append(sweepables, dedup)
	}
	if semantic != nil {
		sweepables = append(sweepables, semantic)
	}
	if len(sweepables) > 0 {
		sweeper, err := cache.NewSweeper(cfg.Cache.SweepSchedule, zl, sweepables...)
		if err != nil {
			rt.close()
			return nil, err
		}
		sweeper.Start()
		rt.sweeper = sweeper
		rt.cleanup = append(rt.cleanup, sweeper.Stop)
	}

	return rt, nil
}

// buildSemanticCache selects the embedding provider and optional store
func buildSemanticCache(cfg *config.Config, zl zerolog.Logger) (*cache.SemanticCache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	var provider cache.EmbeddingProvider
	switch cfg.Cache.Provider {
	case "openai":
		if cfg.Cache.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("cache.openai_api_key is required for the openai provider")
		}
		provider = cache.NewOpenAIEmbedder(cfg.Cache.OpenAIAPIKey, cfg.Cache.OpenAIModel)
	case "hash", "":
		provider = cache.NewHashEmbedder(0)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Cache.Provider)
	}

	var store *cache.SemanticStore
	if cfg.Cache.PersistPath != "" {
		var err error
		store, err = cache.OpenSemanticStore(cfg.Cache.PersistPath, provider.Dimension())
		if err != nil {
			return nil, err
		}
	}

	return cache.NewSemanticCache(provider, cache.SemanticConfig{
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		TTL:                 time.Duration(cfg.Cache.TTL) * time.Second,
		MaxSize:             cfg.Cache.MaxSize,
		Store:               store,
		Logger:              zl,
	})
}

// close runs cleanup in reverse order
func (r *runtime) close() {
	for i := len(r.cleanup) - 1; i >= 0; i-- {
		r.cleanup[i]()
	}
}
