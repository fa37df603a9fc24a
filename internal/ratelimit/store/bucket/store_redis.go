package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"edushield/internal/ratelimit/models"
)

// RedisStore implements Store on a shared Redis instance so a horizontally
// scaled deployment enforces one budget per principal, not one per replica.
// The fixed window is an INCR counter whose TTL is set on first increment;
// key expiry is the window reset.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a counter store backed by the given client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Allow consumes one request from the key's window.
func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis rate limit check: %w", err)
	}

	count := int(incr.Val())
	remaining := ttl.Val()
	if remaining <= 0 {
		remaining = window
	}
	resetAt := time.Now().Add(remaining)

	if count > limit {
		retryAfter := int(remaining.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}, nil
	}

	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}, nil
}

// Status reports the window state without consuming a request.
func (s *RedisStore) Status(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	pipe := s.client.TxPipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis rate limit status: %w", err)
	}

	count, _ := get.Int()
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	resetIn := ttl.Val()
	if resetIn <= 0 {
		resetIn = window
	}
	return &models.Result{
		Allowed:   remaining > 0,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(resetIn),
	}, nil
}

// Reset clears the counter for a key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis rate limit reset: %w", err)
	}
	return nil
}
