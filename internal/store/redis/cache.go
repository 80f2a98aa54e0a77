package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"patternpilot/internal/model"
)

// DefaultTTL matches the price-data freshness window of one hour.
const DefaultTTL = time.Hour

const keyPrefix = "pp:prices:"

// CacheConfig configures the Redis price cache.
type CacheConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration

	MaxFailures  int           // breaker threshold (default 5)
	ResetTimeout time.Duration // breaker cool-down (default 10s)
}

// Cache stores downloaded price history as JSON strings with a TTL.
// Every round trip goes through a circuit breaker so that a dead Redis
// costs one fast rejection per request instead of a dial timeout.
type Cache struct {
	client *goredis.Client
	cb     *CircuitBreaker
	ttl    time.Duration
}

// NewCache creates a Cache and pings the server.
func NewCache(cfg CacheConfig) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	reset := cfg.ResetTimeout
	if reset <= 0 {
		reset = 10 * time.Second
	}

	log.Printf("[redis] connected to %s (ttl=%s)", cfg.Addr, ttlOrDefault(cfg.TTL))
	return NewCacheWithClient(client, NewCircuitBreaker(maxFailures, reset), cfg.TTL), nil
}

// NewCacheWithClient wraps an existing client.
func NewCacheWithClient(client *goredis.Client, cb *CircuitBreaker, ttl time.Duration) *Cache {
	return &Cache{client: client, cb: cb, ttl: ttlOrDefault(ttl)}
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// Breaker exposes the circuit breaker so callers can hook state changes.
func (c *Cache) Breaker() *CircuitBreaker { return c.cb }

// Key builds the cache key for one download request. Zero bounds are
// encoded as "-".
func Key(symbol string, start, end time.Time) string {
	return keyPrefix + strings.ToUpper(symbol) + ":" + day(start) + ":" + day(end)
}

// Get returns the cached series. A miss is (_, false, nil).
func (c *Cache) Get(ctx context.Context, key string) (model.Series, bool, error) {
	var data string
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.client.Get(ctx, key).Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return model.Series{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if data == "" {
		return model.Series{}, false, nil
	}

	var s model.Series
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		// A corrupt entry is treated as a miss; the next Set overwrites it.
		log.Printf("[redis] unmarshal %s: %v", key, err)
		return model.Series{}, false, nil
	}
	return s, true, nil
}

// Set stores s under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, s model.Series) error {
	data := s.JSON()
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops every cached download of symbol.
func (c *Cache) Invalidate(ctx context.Context, symbol string) (int, error) {
	pattern := keyPrefix + strings.ToUpper(symbol) + ":*"
	removed := 0
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, keys...).Result()
		removed = int(n)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("redis invalidate %s: %w", symbol, err)
	}
	return removed, nil
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func day(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.DateOnly)
}
