package market

import (
	"context"
	"errors"
	"sync"
	"time"

	"kortrade/internal/cache"

	"github.com/redis/go-redis/v9"
)

// ErrNoPrice is returned when no mark price is known for a symbol.
var ErrNoPrice = errors.New("no mark price available")

// PriceCache holds the latest mark price per symbol in memory and mirrors
// it to Redis so API instances without a stream can read it.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]MarkPrice
	rdb    *redis.Client
	maxAge time.Duration
}

// NewPriceCache creates a cache. rdb may be nil.
func NewPriceCache(rdb *redis.Client) *PriceCache {
	return &PriceCache{
		prices: make(map[string]MarkPrice),
		rdb:    rdb,
		maxAge: cache.MarkPriceTTL,
	}
}

// Set stores mp and mirrors it to Redis with a short TTL.
func (c *PriceCache) Set(ctx context.Context, mp MarkPrice) {
	if mp.UpdatedAt.IsZero() {
		mp.UpdatedAt = time.Now()
	}
	c.mu.Lock()
	c.prices[mp.Symbol] = mp
	c.mu.Unlock()

	// best-effort
	_ = cache.SetJSON(ctx, c.rdb, cache.MarkPriceKey(mp.Symbol), mp, cache.MarkPriceTTL)
}

// Get returns a fresh mark price from memory, then from Redis.
func (c *PriceCache) Get(ctx context.Context, symbol string) (MarkPrice, error) {
	c.mu.RLock()
	mp, ok := c.prices[symbol]
	c.mu.RUnlock()
	if ok && time.Since(mp.UpdatedAt) <= c.maxAge {
		return mp, nil
	}

	var shared MarkPrice
	found, err := cache.GetJSON(ctx, c.rdb, cache.MarkPriceKey(symbol), &shared)
	if err == nil && found {
		return shared, nil
	}
	return MarkPrice{}, ErrNoPrice
}

// Snapshot returns every cached price regardless of age.
func (c *PriceCache) Snapshot() map[string]MarkPrice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]MarkPrice, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out
}
