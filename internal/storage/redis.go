package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCoalescer claims alert keys in Redis so that several evaluator
// processes sharing one Redis raise a given alert once per window.
type RedisCoalescer struct {
	client *redis.Client
	prefix string
}

// NewRedisCoalescer wraps client. Keys are namespaced under prefix.
func NewRedisCoalescer(client *redis.Client, prefix string) *RedisCoalescer {
	if prefix == "" {
		prefix = "authcore:alert:"
	}
	return &RedisCoalescer{client: client, prefix: prefix}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// Claim sets key if absent with the given ttl and reports whether it was set.
func (c *RedisCoalescer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming alert key: %w", err)
	}
	return ok, nil
}
