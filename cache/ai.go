package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenUsage records token consumption for one LLM completion. It is stored
// alongside the cached response and surfaced back on a hit.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AIEntry is one cached LLM completion.
type AIEntry struct {
	Key               string          `json:"key"`
	Model             string          `json:"model"`
	Prompt            string          `json:"prompt"`
	SchemaFingerprint string          `json:"schema_fingerprint,omitempty"`
	Temperature       float64         `json:"temperature"`
	Response          json.RawMessage `json:"response"`
	Usage             TokenUsage      `json:"usage"`
	TenantID          string          `json:"tenant_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
}

func (e *AIEntry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// AICache caches LLM completions keyed by model, prompt, schema fingerprint,
// temperature, and tenant. Deterministic completions (temperature 0) get a
// long default TTL; stochastic ones a short one.
type AICache struct {
	store            *store
	deterministicTTL time.Duration
	stochasticTTL    time.Duration
	now              func() time.Time
}

// AIOption configures an AICache.
type AIOption func(*aiConfig)

type aiConfig struct {
	memSize          int
	maxAge           time.Duration
	deterministicTTL time.Duration
	stochasticTTL    time.Duration
	rdb              redis.UniversalClient
	logger           *slog.Logger
}

// WithAIRedis sets the Redis tier.
func WithAIRedis(rdb redis.UniversalClient) AIOption {
	return func(c *aiConfig) { c.rdb = rdb }
}

// WithAIMemorySize sets the LRU tier capacity.
func WithAIMemorySize(n int) AIOption {
	return func(c *aiConfig) { c.memSize = n }
}

// WithDeterministicTTL sets the default TTL for temperature-0 entries.
func WithDeterministicTTL(d time.Duration) AIOption {
	return func(c *aiConfig) { c.deterministicTTL = d }
}

// WithStochasticTTL sets the default TTL for temperature > 0 entries.
func WithStochasticTTL(d time.Duration) AIOption {
	return func(c *aiConfig) { c.stochasticTTL = d }
}

// WithAILogger sets the logger.
func WithAILogger(logger *slog.Logger) AIOption {
	return func(c *aiConfig) { c.logger = logger }
}

// NewAICache creates an AI completion cache.
func NewAICache(opts ...AIOption) *AICache {
	cfg := aiConfig{
		memSize:          1024,
		maxAge:           7 * 24 * time.Hour,
		deterministicTTL: 24 * time.Hour,
		stochasticTTL:    time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &AICache{
		store:            newStore("aicache", cfg.memSize, cfg.maxAge, cfg.rdb, cfg.logger),
		deterministicTTL: cfg.deterministicTTL,
		stochasticTTL:    cfg.stochasticTTL,
		now:              time.Now,
	}
}

// Get returns a non-expired cached completion.
func (c *AICache) Get(ctx context.Context, tenantID, key string) (*AIEntry, bool) {
	data, ok := c.store.get(ctx, tenantID, key)
	if !ok {
		return nil, false
	}
	var entry AIEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if entry.expired(c.now()) {
		return nil, false
	}
	return &entry, true
}

// Put inserts a completion. A zero ttl picks the temperature-based default.
func (c *AICache) Put(ctx context.Context, entry *AIEntry, ttl time.Duration) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	if ttl <= 0 {
		if entry.Temperature == 0 {
			ttl = c.deterministicTTL
		} else {
			ttl = c.stochasticTTL
		}
	}
	expires := entry.CreatedAt.Add(ttl)
	entry.ExpiresAt = &expires

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	c.store.put(ctx, entry.TenantID, entry.Key, data, ttl)
}
