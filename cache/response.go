package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one cached external API response.
type Entry struct {
	Key        string            `json:"key"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Params     map[string]string `json:"params,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"` // secrets already stripped
	StatusCode int               `json:"status_code"`
	Data       json.RawMessage   `json:"data"`
	TenantID   string            `json:"tenant_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
}

// expired reports whether the entry is past its expiry at time now.
func (e *Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// ResponseCache serves repeat outbound calls from a keyed store so provider
// cost is not paid twice. Only 2xx/3xx responses are inserted.
type ResponseCache struct {
	store *store
	now   func() time.Time
}

// ResponseOption configures a ResponseCache.
type ResponseOption func(*responseConfig)

type responseConfig struct {
	memSize int
	maxAge  time.Duration
	rdb     redis.UniversalClient
	logger  *slog.Logger
}

// WithRedis sets the Redis tier. Without it the cache is memory-only.
func WithRedis(rdb redis.UniversalClient) ResponseOption {
	return func(c *responseConfig) { c.rdb = rdb }
}

// WithMemorySize sets the LRU tier capacity.
func WithMemorySize(n int) ResponseOption {
	return func(c *responseConfig) { c.memSize = n }
}

// WithMaxAge bounds the lifetime of entries stored without an explicit TTL.
func WithMaxAge(d time.Duration) ResponseOption {
	return func(c *responseConfig) { c.maxAge = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ResponseOption {
	return func(c *responseConfig) { c.logger = logger }
}

// NewResponseCache creates a response cache.
func NewResponseCache(opts ...ResponseOption) *ResponseCache {
	cfg := responseConfig{
		memSize: 2048,
		maxAge:  7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ResponseCache{
		store: newStore("respcache", cfg.memSize, cfg.maxAge, cfg.rdb, cfg.logger),
		now:   time.Now,
	}
}

// Get returns the most recent non-expired entry for key, scoped to tenantID.
func (c *ResponseCache) Get(ctx context.Context, tenantID, key string) (*Entry, bool) {
	data, ok := c.store.get(ctx, tenantID, key)
	if !ok {
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if entry.expired(c.now()) {
		return nil, false
	}
	return &entry, true
}

// Put inserts a response. Entries with status >= 400 bypass the cache. A
// positive ttl sets ExpiresAt; zero means no explicit expiry (the store's
// max age still applies).
func (c *ResponseCache) Put(ctx context.Context, entry *Entry, ttl time.Duration) {
	if entry.StatusCode >= 400 {
		return
	}
	entry.Headers = StripSecretHeaders(entry.Headers)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	if ttl > 0 {
		expires := entry.CreatedAt.Add(ttl)
		entry.ExpiresAt = &expires
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	c.store.put(ctx, entry.TenantID, entry.Key, data, ttl)
}

// Cleanup removes expired entries from the Redis tier. Returns the number
// removed.
func (c *ResponseCache) Cleanup(ctx context.Context) int {
	now := c.now()
	return c.store.purgeExpired(ctx, func(data []byte) bool {
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return true
		}
		return entry.expired(now) || now.Sub(entry.CreatedAt) > c.store.maxAge
	})
}

// StartCleanup runs Cleanup on the given cadence until ctx is cancelled.
func (c *ResponseCache) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := c.Cleanup(ctx)
				if removed > 0 {
					c.store.logger.DebugContext(ctx, "response cache sweep", "removed", removed)
				}
			}
		}
	}()
}
