package provider

import (
	"context"
	"log"
	"time"

	"patternpilot/internal/metrics"
	"patternpilot/internal/model"
)

// Cache is the subset of the Redis price cache the provider needs.
type Cache interface {
	Get(ctx context.Context, key string) (model.Series, bool, error)
	Set(ctx context.Context, key string, s model.Series) error
}

// Invalidator is implemented by caches that can drop a symbol's entries.
type Invalidator interface {
	Invalidate(ctx context.Context, symbol string) (int, error)
}

// KeyFunc derives a cache key from a request.
type KeyFunc func(symbol string, start, end time.Time) string

// Cached serves downloads from a cache and falls back to the upstream
// provider on a miss. Cache failures are logged and never fail a fetch.
type Cached struct {
	inner   model.PriceProvider
	cache   Cache
	key     KeyFunc
	metrics *metrics.Metrics
}

// NewCached wraps inner. m may be nil.
func NewCached(inner model.PriceProvider, cache Cache, key KeyFunc, m *metrics.Metrics) *Cached {
	return &Cached{inner: inner, cache: cache, key: key, metrics: m}
}

func (c *Cached) Name() string { return c.inner.Name() + "+cache" }

func (c *Cached) Fetch(ctx context.Context, symbol string, start, end time.Time) (model.Series, error) {
	symbol = NormalizeSymbol(symbol)
	key := c.key(symbol, start, end)

	s, hit, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		log.Printf("[provider] cache get %s: %v", key, err)
	case hit:
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return s, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	fetchStart := time.Now()
	s, err = c.inner.Fetch(ctx, symbol, start, end)
	if c.metrics != nil {
		c.metrics.ProviderFetchDur.WithLabelValues(c.inner.Name()).Observe(time.Since(fetchStart).Seconds())
		if err != nil {
			c.metrics.ProviderErrors.WithLabelValues(c.inner.Name()).Inc()
		}
	}
	if err != nil {
		return model.Series{}, err
	}

	if err := c.cache.Set(ctx, key, s); err != nil {
		log.Printf("[provider] cache set %s: %v", key, err)
	}
	return s, nil
}

// Invalidate drops cached downloads of symbol when the cache supports it.
func (c *Cached) Invalidate(ctx context.Context, symbol string) (int, error) {
	inv, ok := c.cache.(Invalidator)
	if !ok {
		return 0, nil
	}
	return inv.Invalidate(ctx, NormalizeSymbol(symbol))
}
