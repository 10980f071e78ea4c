package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisRateLimiter is a fixed-window limiter shared by every API instance.
// When Redis is unreachable it falls back to the local limiter.
type RedisRateLimiter struct {
	client   counter
	prefix   string
	limit    int64
	window   time.Duration
	fallback Limiter
	logger   *slog.Logger
}

// NewRedisRateLimiter creates a Redis-backed limiter.
func NewRedisRateLimiter(client redis.Cmdable, prefix string, limit int, window time.Duration, fallback Limiter, logger *slog.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:   client,
		prefix:   prefix,
		limit:    int64(limit),
		window:   window,
		fallback: fallback,
		logger:   logger,
	}
}

func (rl *RedisRateLimiter) windowKey(key string, now time.Time) (string, time.Duration) {
	bucket := now.UnixNano() / int64(rl.window)
	remaining := time.Duration((bucket+1)*int64(rl.window) - now.UnixNano())
	return fmt.Sprintf("%s:rate_limit:%s:%d", rl.prefix, key, bucket), remaining
}

// Check counts the request in the current window.
func (rl *RedisRateLimiter) Check(ctx context.Context, key string) Result {
	k, remaining := rl.windowKey(key, time.Now())
	count, err := rl.client.Incr(ctx, k).Result()
	if err != nil {
		rl.logger.Warn("redis rate limit unavailable, using local limiter", "error", err)
		return rl.fallback.Check(ctx, key)
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, k, rl.window).Err(); err != nil {
			rl.logger.Warn("redis rate limit expire failed", "key", k, "error", err)
		}
	}
	if count > rl.limit {
		return Result{
			Allowed:    false,
			Reason:     fmt.Sprintf("rate limit exceeded: %d/%s", rl.limit, rl.window),
			Guard:      "rate_limiter",
			RetryAfter: remaining,
		}
	}
	return Result{Allowed: true}
}
