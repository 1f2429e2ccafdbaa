package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/kwikpesa/gateway/internal/logging"
)

// RateLimiter caps checkout requests per merchant over a fixed window
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter returns a limiter. A nil client or non-positive limit allows everything.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  client,
		limit:  limit,
		window: window,
	}
}

func (l *RateLimiter) Allow(ctx context.Context, merchantID string) error {
	if l == nil || l.redis == nil || l.limit <= 0 {
		return nil
	}

	key := fmt.Sprintf("checkout:ratelimit:%s", merchantID)
	count, err := l.redis.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		logging.LOGGER.Warningf("[RATELIMIT] redis unavailable, allowing %s: %v", merchantID, err)
		return nil
	}

	if count >= l.limit {
		return ErrRateLimited
	}

	pipe := l.redis.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		logging.LOGGER.Warningf("[RATELIMIT] failed to record request for %s: %v", merchantID, err)
	}
	return nil
}
