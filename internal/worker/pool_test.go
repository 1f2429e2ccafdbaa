package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsAndDrains(t *testing.T) {
	pool := NewPool("test", 4, 16)

	var ran int32
	for i := 0; i < 10; i++ {
		err := pool.Submit(Job{Kind: "test", Ref: "n", Run: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))
	assert.Equal(t, int32(10), atomic.LoadInt32(&ran))

	t.Run("submit after shutdown", func(t *testing.T) {
		err := pool.Submit(Job{Kind: "test", Run: func(ctx context.Context) error { return nil }})
		assert.ErrorIs(t, err, ErrStopped)
	})
}

func TestPool_QueueFull(t *testing.T) {
	pool := NewPool("test", 1, 1)

	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, pool.Submit(Job{Kind: "block", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	require.NoError(t, pool.Submit(Job{Kind: "queued", Run: func(ctx context.Context) error { return nil }}))

	err := pool.Submit(Job{Kind: "overflow", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_IsolatesFailures(t *testing.T) {
	pool := NewPool("test", 1, 4)

	var after int32
	require.NoError(t, pool.Submit(Job{Kind: "panics", Run: func(ctx context.Context) error {
		panic("boom")
	}}))
	require.NoError(t, pool.Submit(Job{Kind: "errors", Run: func(ctx context.Context) error {
		return errors.New("provider down")
	}}))
	require.NoError(t, pool.Submit(Job{Kind: "ok", Run: func(ctx context.Context) error {
		atomic.StoreInt32(&after, 1)
		return nil
	}}))

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&after))
}

func TestPool_SubmitAfter(t *testing.T) {
	t.Run("waiting job holds no worker", func(t *testing.T) {
		pool := NewPool("test", 1, 4)

		var delayed int32
		pool.SubmitAfter(time.Hour, Job{Kind: "retry", Ref: "KP-1", Run: func(ctx context.Context) error {
			atomic.StoreInt32(&delayed, 1)
			return nil
		}})
		assert.Equal(t, 1, pool.Pending())

		ran := make(chan struct{})
		require.NoError(t, pool.Submit(Job{Kind: "customer_sms", Ref: "KP-2", Run: func(ctx context.Context) error {
			close(ran)
			return nil
		}}))

		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("unrelated job waited behind a delayed one")
		}

		require.NoError(t, pool.Shutdown(context.Background()))
		assert.Equal(t, 0, pool.Pending())
		assert.Equal(t, int32(0), atomic.LoadInt32(&delayed))
	})

	t.Run("runs once the wait is over", func(t *testing.T) {
		pool := NewPool("test", 1, 4)

		ran := make(chan struct{})
		pool.SubmitAfter(10*time.Millisecond, Job{Kind: "retry", Run: func(ctx context.Context) error {
			close(ran)
			return nil
		}})

		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("delayed job never ran")
		}
		require.NoError(t, pool.Shutdown(context.Background()))
	})

	t.Run("rejected after shutdown", func(t *testing.T) {
		pool := NewPool("test", 1, 1)
		require.NoError(t, pool.Shutdown(context.Background()))

		var rejected error
		pool.SubmitAfter(time.Millisecond, Job{Kind: "retry", Run: func(ctx context.Context) error { return nil }, Rejected: func(err error) {
			rejected = err
		}})
		assert.ErrorIs(t, rejected, ErrStopped)
	})
}
