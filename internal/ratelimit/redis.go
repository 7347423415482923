package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares window counters across instances through redis.
// INCR with an expiry set on the window's first hit gives the same
// reset-on-expiry behavior as the in-memory counters; redis reclaims the
// keys itself.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "ratelimit:"}
}

var _ Limiter = (*RedisLimiter)(nil)

// Allow counts a request against the key's current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit Limit) (Decision, error) {
	if limit.Requests <= 0 || limit.Window <= 0 {
		return Decision{Allowed: true}, nil
	}
	redisKey := l.prefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, redisKey, limit.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}

	ttl, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		ttl = limit.Window
	}
	resetAt := time.Now().Add(ttl)

	if count > int64(limit.Requests) {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Decision{
		Allowed:   true,
		Remaining: limit.Requests - int(count),
		ResetAt:   resetAt,
	}, nil
}
