package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	key := "checkout:ratelimit:merchant-1"

	t.Run("first request in window", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		limiter := NewRateLimiter(client, 2, time.Minute)

		mock.ExpectGet(key).RedisNil()
		mock.ExpectIncr(key).SetVal(1)
		mock.ExpectExpire(key, time.Minute).SetVal(true)

		assert.NoError(t, limiter.Allow(ctx, "merchant-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("limit reached", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		limiter := NewRateLimiter(client, 2, time.Minute)

		mock.ExpectGet(key).SetVal("2")

		assert.ErrorIs(t, limiter.Allow(ctx, "merchant-1"), ErrRateLimited)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis down allows the request", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		limiter := NewRateLimiter(client, 2, time.Minute)

		mock.ExpectGet(key).SetErr(errors.New("connection refused"))

		assert.NoError(t, limiter.Allow(ctx, "merchant-1"))
	})

	t.Run("no client configured", func(t *testing.T) {
		assert.NoError(t, NewRateLimiter(nil, 1, time.Minute).Allow(ctx, "merchant-1"))
	})
}
