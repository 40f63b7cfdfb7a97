package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tickwise/internal/domain"
)

// DefaultRedisTTL bounds how long a cached price history is served.
const DefaultRedisTTL = 12 * time.Hour

// RedisBarCache shares price histories between processes. Values are the
// JSON-encoded bars under "<prefix>bars:<TICKER>".
type RedisBarCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBarCache connects to the Redis server at addr. A non-positive
// ttl selects DefaultRedisTTL.
func NewRedisBarCache(addr, password string, db int, prefix string, ttl time.Duration) *RedisBarCache {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	if prefix == "" {
		prefix = "tickwise:"
	}
	return &RedisBarCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// HealthCheck verifies Redis connectivity.
func (c *RedisBarCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (c *RedisBarCache) Close() error {
	return c.client.Close()
}

// Get returns the cached bars of ticker or ErrCacheMiss.
func (c *RedisBarCache) Get(ctx context.Context, ticker string) ([]domain.PriceBar, error) {
	data, err := c.client.Get(ctx, c.key(ticker)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis %s: %w", ticker, ErrCacheMiss)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", ticker, err)
	}
	var bars []domain.PriceBar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("decoding cached %s: %w", ticker, err)
	}
	return bars, nil
}

// Set stores the bars of ticker with the cache TTL.
func (c *RedisBarCache) Set(ctx context.Context, ticker string, bars []domain.PriceBar) error {
	data, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ticker, err)
	}
	if err := c.client.Set(ctx, c.key(ticker), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", ticker, err)
	}
	return nil
}

func (c *RedisBarCache) key(ticker string) string {
	return c.prefix + "bars:" + strings.ToUpper(ticker)
}
