package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

const (
	DefaultCacheTTL         = time.Hour
	DefaultFallbackCacheTTL = time.Minute

	cacheMessageRunes = 50
	cacheHit          = "hit"
	cacheMiss         = "miss"
	cacheError        = "error"
)

// resultCache is a best-effort JSON layer over ports.ResultCache. Store
// failures are logged and treated as misses.
// Results computed with the fallback embedding expire after fallbackTTL, never
// later than ttl.
type resultCache struct {
	store       ports.ResultCache
	ttl         time.Duration
	fallbackTTL time.Duration
	observer    ports.EngineObserver
	logger      *slog.Logger
}

func newResultCache(store ports.ResultCache, ttl, fallbackTTL time.Duration, observer ports.EngineObserver, logger *slog.Logger) *resultCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if fallbackTTL <= 0 {
		fallbackTTL = DefaultFallbackCacheTTL
	}
	fallbackTTL = min(fallbackTTL, ttl)
	return &resultCache{store: store, ttl: ttl, fallbackTTL: fallbackTTL, observer: observer, logger: logger}
}

// cacheKey hashes the serialized signal plus the first 50 runes of the message.
func cacheKey(prefix string, message string, signal domain.EmotionalSignal) string {
	encoded, _ := json.Marshal(signal)
	runes := []rune(message)
	if len(runes) > cacheMessageRunes {
		runes = runes[:cacheMessageRunes]
	}
	sum := sha256.Sum256(append(encoded, []byte(string(runes))...))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

func (c *resultCache) load(ctx context.Context, key string, out any) bool {
	if c == nil || c.store == nil {
		return false
	}
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache_get_failed", "key", key, "error", err)
		c.observer.ObserveCache(cacheError)
		return false
	}
	if !ok {
		c.observer.ObserveCache(cacheMiss)
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warn("cache_decode_failed", "key", key, "error", err)
		c.observer.ObserveCache(cacheError)
		return false
	}
	c.observer.ObserveCache(cacheHit)
	return true
}

func (c *resultCache) save(ctx context.Context, key string, value any, fallback bool) {
	if c == nil || c.store == nil {
		return
	}
	ttl := c.ttl
	if fallback {
		ttl = c.fallbackTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache_encode_failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Warn("cache_set_failed", "key", key, "error", err)
		c.observer.ObserveCache(cacheError)
	}
}
