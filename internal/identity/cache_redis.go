package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"

	"appview/pkg/domain"
)

const identityKeyPrefix = "identity:did:"

// RedisCache is a SharedCache backed by Redis. Keys expire with the entry.
type RedisCache struct {
	client *redis.Client
	clock  clock.Clock
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithRedisClock sets the clock used to compute remaining TTLs.
func WithRedisClock(clk clock.Clock) RedisCacheOption {
	return func(c *RedisCache) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// NewRedisCache constructs a Redis-backed shared cache.
func NewRedisCache(client *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{client: client, clock: clock.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the entry for did. A missing key is a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, did domain.DID) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, identityKeyPrefix+string(did)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get identity entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode identity entry: %w", err)
	}
	if entry.DID != did || entry.Expired(c.clock.Now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Set stores entry for the rest of its TTL. Already-expired entries are not written.
func (c *RedisCache) Set(ctx context.Context, entry Entry) error {
	remaining := entry.ExpiresAt().Sub(c.clock.Now())
	if remaining < time.Millisecond {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode identity entry: %w", err)
	}
	return c.client.Set(ctx, identityKeyPrefix+string(entry.DID), raw, remaining).Err()
}

// Delete removes the entry for did.
func (c *RedisCache) Delete(ctx context.Context, did domain.DID) error {
	return c.client.Del(ctx, identityKeyPrefix+string(did)).Err()
}
