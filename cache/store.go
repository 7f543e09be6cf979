package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// store is the shared two-tier backend: an expirable LRU in front of an
// optional Redis client. Writes are idempotent inserts; readers see either
// the previous or the new entry, never torn.
type store struct {
	prefix string
	mem    *expirable.LRU[string, []byte]
	rdb    redis.UniversalClient
	logger *slog.Logger

	// maxAge bounds entries written without an explicit TTL.
	maxAge time.Duration
}

func newStore(prefix string, memSize int, maxAge time.Duration, rdb redis.UniversalClient, logger *slog.Logger) *store {
	if logger == nil {
		logger = slog.Default()
	}
	return &store{
		prefix: prefix,
		mem:    expirable.NewLRU[string, []byte](memSize, nil, maxAge),
		rdb:    rdb,
		logger: logger,
		maxAge: maxAge,
	}
}

func (s *store) redisKey(tenantID, key string) string {
	if tenantID == "" {
		tenantID = "-"
	}
	return fmt.Sprintf("%s:%s:%s", s.prefix, tenantID, key)
}

// get returns the raw entry bytes, consulting memory first and filling it
// from Redis on a miss.
func (s *store) get(ctx context.Context, tenantID, key string) ([]byte, bool) {
	rk := s.redisKey(tenantID, key)

	if data, ok := s.mem.Get(rk); ok {
		return data, true
	}
	if s.rdb == nil {
		return nil, false
	}

	data, err := s.rdb.Get(ctx, rk).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WarnContext(ctx, "cache read failed", "key", rk, "error", err)
		}
		return nil, false
	}
	s.mem.Add(rk, data)
	return data, true
}

// put writes the entry to both tiers. A zero ttl falls back to maxAge so
// unbounded entries still age out.
func (s *store) put(ctx context.Context, tenantID, key string, data []byte, ttl time.Duration) {
	rk := s.redisKey(tenantID, key)

	s.mem.Add(rk, data)
	if s.rdb == nil {
		return
	}
	if ttl <= 0 {
		ttl = s.maxAge
	}
	if err := s.rdb.Set(ctx, rk, data, ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "cache write failed", "key", rk, "error", err)
	}
}

// purgeExpired deletes Redis entries whose payload says they are past
// expiry. TTLs normally handle this; the sweep catches entries written by
// older builds without one.
func (s *store) purgeExpired(ctx context.Context, isExpired func(data []byte) bool) int {
	if s.rdb == nil {
		return 0
	}

	removed := 0
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		if isExpired(data) {
			if err := s.rdb.Del(ctx, key).Err(); err == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		s.logger.WarnContext(ctx, "cache sweep failed", "prefix", s.prefix, "error", err)
	}
	return removed
}
