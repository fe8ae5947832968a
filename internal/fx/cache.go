package fx

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const cacheKeyPrefix = "fx:rate"

// Cache stores resolved rates in Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the Redis rate cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(from, to string, on time.Time) string {
	return strings.Join([]string{cacheKeyPrefix, from, to, on.Format(time.DateOnly)}, ":")
}

// Get returns a cached rate.
func (c *Cache) Get(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, bool, error) {
	if c == nil || c.client == nil {
		return decimal.Zero, false, nil
	}
	raw, err := c.client.Get(ctx, cacheKey(from, to, on)).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, err
	}
	return rate, true, nil
}

// Set stores a rate for the configured TTL.
func (c *Cache) Set(ctx context.Context, from, to string, on time.Time, rate decimal.Decimal) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, cacheKey(from, to, on), rate.String(), c.ttl).Err()
}

// Invalidate drops every cached rate of a pair, typically after a new rate is stored.
func (c *Cache) Invalidate(ctx context.Context, from, to string) error {
	if c == nil || c.client == nil {
		return nil
	}
	pattern := strings.Join([]string{cacheKeyPrefix, from, to, "*"}, ":")
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
