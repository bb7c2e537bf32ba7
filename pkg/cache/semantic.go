package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SemanticConfig holds semantic cache thresholds
type SemanticConfig struct {
	SimilarityThreshold float64
	TTL                 time.Duration
	MaxSize             int
	Store               *SemanticStore
	Logger              zerolog.Logger
}

// DefaultSemanticConfig returns the default cache thresholds
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{
		SimilarityThreshold: 0.85,
		TTL:                 10 * time.Minute,
		MaxSize:             500,
	}
}

// SemanticEntry is one cached result with its query embedding
type SemanticEntry struct {
	AgentID   string
	Query     string
	Embedding []float32
	Result    json.RawMessage
	CreatedAt time.Time
}

// SemanticCache caches call results keyed by meaning-similarity of the
// query. Agent isolation is absolute: a lookup for one agent never returns
// an entry stored for another, regardless of similarity score. Isolation is
// checked before similarity, never after.
type SemanticCache struct {
	provider EmbeddingProvider
	cfg      SemanticConfig
	logger   zerolog.Logger

	mu      sync.Mutex
	entries []*SemanticEntry
	hits    int64
	misses  int64
	now     func() time.Time
}

// NewSemanticCache creates a semantic cache over the embedding provider.
// When a store is configured, surviving entries are loaded from disk and
// subsequent writes go through to it.
func NewSemanticCache(provider EmbeddingProvider, cfg SemanticConfig) (*SemanticCache, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = DefaultSemanticConfig().SimilarityThreshold
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSemanticConfig().TTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultSemanticConfig().MaxSize
	}

	c := &SemanticCache{
		provider: provider,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "semantic-cache").Logger(),
		now:      time.Now,
	}

	if cfg.Store != nil {
		loaded, err := cfg.Store.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("failed to load cache store: %w", err)
		}
		cutoff := c.now().Add(-cfg.TTL)
		for _, entry := range loaded {
			if entry.CreatedAt.After(cutoff) {
				c.entries = append(c.entries, entry)
			}
		}
		if len(c.entries) > cfg.MaxSize {
			c.entries = c.entries[len(c.entries)-cfg.MaxSize:]
		}
		c.logger.Info().Int("entries", len(c.entries)).Msg("Loaded semantic cache from store")
	}

	return c, nil
}

// Get returns the cached result whose query is most similar to the given
// one, provided it belongs to the same agent, has not expired, and clears
// the similarity threshold.
func (c *SemanticCache) Get(ctx context.Context, agentID, query string) (json.RawMessage, bool, error) {
	embedding, err := c.provider.Embed(ctx, query)
	if err != nil {
		return nil, false, fmt.Errorf("failed to embed query: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropExpiredLocked(agentID)

	var best *SemanticEntry
	bestScore := 0.0
	for _, entry := range c.entries {
		if entry.AgentID != agentID {
			continue
		}
		score := Cosine(embedding, entry.Embedding)
		if score > bestScore {
			bestScore = score
			best = entry
		}
	}

	if best == nil || bestScore < c.cfg.SimilarityThreshold {
		c.misses++
		return nil, false, nil
	}

	c.hits++
	c.logger.Debug().
		Str("agentId", agentID).
		Float64("score", bestScore).
		Msg("Semantic cache hit")
	return best.Result, true, nil
}

// Set embeds the query and stores the result, evicting the oldest entry
// once the size cap is exceeded.
func (c *SemanticCache) Set(ctx context.Context, agentID, query string, result json.RawMessage) error {
	embedding, err := c.provider.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to embed query: %w", err)
	}

	entry := &SemanticEntry{
		AgentID:   agentID,
		Query:     query,
		Embedding: embedding,
		Result:    result,
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	c.entries = append(c.entries, entry)
	for len(c.entries) > c.cfg.MaxSize {
		c.entries = c.entries[1:]
	}
	c.mu.Unlock()

	if c.cfg.Store != nil {
		if err := c.cfg.Store.Insert(entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to persist cache entry")
		}
	}
	return nil
}

// Len returns the number of cached entries
func (c *SemanticCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit and miss counts
func (c *SemanticCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Sweep removes expired entries across all agents and returns how many
// were dropped
func (c *SemanticCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.cfg.TTL)
	kept := c.entries[:0]
	removed := 0
	for _, entry := range c.entries {
		if entry.CreatedAt.After(cutoff) {
			kept = append(kept, entry)
		} else {
			removed++
		}
	}
	c.entries = kept

	if removed > 0 && c.cfg.Store != nil {
		if err := c.cfg.Store.DeleteBefore(cutoff); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to sweep cache store")
		}
	}
	return removed
}

// dropExpiredLocked removes expired entries for one agent. Callers hold the
// mutex.
func (c *SemanticCache) dropExpiredLocked(agentID string) {
	cutoff := c.now().Add(-c.cfg.TTL)
	kept := c.entries[:0]
	for _, entry := range c.entries {
		if entry.AgentID == agentID && !entry.CreatedAt.After(cutoff) {
			continue
		}
		kept = append(kept, entry)
	}
	c.entries = kept
}

// Cosine computes cosine similarity between two vectors. A zero-magnitude
// vector is similar to nothing: the result is 0.0, never a match.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
