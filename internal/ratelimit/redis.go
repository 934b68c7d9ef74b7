package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/litlabs/quota-gateway/internal/storage"
	"github.com/redis/go-redis/v9"
)

// RedisBackend counts in Redis so all gateway instances share one window per
// key. Concurrent consumes for the same key are serialized by Redis itself
// (INCR is atomic); nothing is re-locked here.
type RedisBackend struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
}

func NewRedisBackend(redis *storage.RedisClient, limit int, window time.Duration) *RedisBackend {
	return &RedisBackend{
		redis:  redis,
		limit:  limit,
		window: window,
	}
}

func (b *RedisBackend) windowKey(key string) string {
	currentWindow := time.Now().UnixMilli() / b.window.Milliseconds()
	return fmt.Sprintf("ratelimit:%s:%d", key, currentWindow)
}

func (b *RedisBackend) resetAt() time.Time {
	windowMs := b.window.Milliseconds()
	currentWindow := time.Now().UnixMilli() / windowMs
	return time.UnixMilli((currentWindow + 1) * windowMs)
}

func (b *RedisBackend) Consume(ctx context.Context, key string) (Decision, error) {
	redisKey := b.windowKey(key)

	count, err := b.redis.Incr(ctx, redisKey)
	if err != nil {
		return Decision{}, err
	}

	if count == 1 {
		b.redis.Expire(ctx, redisKey, b.window)
	}

	resetAt := b.resetAt()

	if count > int64(b.limit) {
		retryAfter := time.Until(resetAt)
		if retryAfter < 0 {
			retryAfter = 0
		}

		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter,
			ResetAt:    resetAt,
		}, nil
	}

	remaining := b.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func (b *RedisBackend) Remaining(ctx context.Context, key string) (int, error) {
	val, err := b.redis.Get(ctx, b.windowKey(key))
	if err == redis.Nil {
		return b.limit, nil
	}
	if err != nil {
		return 0, err
	}

	count, _ := strconv.Atoi(val)
	remaining := b.limit - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

func (b *RedisBackend) ResetTime(ctx context.Context, key string) (time.Time, error) {
	_, err := b.redis.Get(ctx, b.windowKey(key))
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	return b.resetAt(), nil
}
