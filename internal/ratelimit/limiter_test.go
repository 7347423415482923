package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	_ "github.com/qrdine/qrdine/testing"
)

func TestMemoryLimiterWindow(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter().WithClock(func() time.Time { return current })
	ctx := context.Background()
	limit := Limit{Requests: 3, Window: time.Minute}

	for i := 1; i <= 3; i++ {
		d, err := limiter.Allow(ctx, "10.0.0.1", limit)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should pass", i)
		require.Equal(t, 3-i, d.Remaining)
	}

	d, err := limiter.Allow(ctx, "10.0.0.1", limit)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, current.Add(time.Minute), d.ResetAt)

	// A different client is unaffected.
	d, err = limiter.Allow(ctx, "10.0.0.2", limit)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// After the window resets the original client passes again.
	current = current.Add(time.Minute)
	d, err = limiter.Allow(ctx, "10.0.0.1", limit)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)
}

func TestMemoryLimiterZeroConfigAllowsAll(t *testing.T) {
	limiter := NewMemoryLimiter()
	d, err := limiter.Allow(context.Background(), "10.0.0.1", Limit{})
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestMemoryLimiterConcurrentCounting(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()
	limit := Limit{Requests: 50, Window: time.Minute}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Allow(ctx, "shared", limit)
			require.NoError(t, err)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 50, allowed)
}

func TestMemoryLimiterReclaim(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter().WithClock(func() time.Time { return current })
	ctx := context.Background()
	limit := Limit{Requests: 3, Window: time.Minute}

	for _, key := range []string{"a", "b", "c"} {
		_, err := limiter.Allow(ctx, key, limit)
		require.NoError(t, err)
	}
	require.Equal(t, 3, limiter.size())

	current = current.Add(2 * time.Minute)
	require.Equal(t, 3, limiter.Reclaim())
	require.Equal(t, 0, limiter.size())
}

func TestRedisLimiterWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewRedisLimiter(client)
	ctx := context.Background()
	limit := Limit{Requests: 3, Window: time.Minute}

	for i := 1; i <= 3; i++ {
		d, err := limiter.Allow(ctx, "10.0.0.1", limit)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should pass", i)
	}

	d, err := limiter.Allow(ctx, "10.0.0.1", limit)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	mr.FastForward(time.Minute + time.Second)

	d, err = limiter.Allow(ctx, "10.0.0.1", limit)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}
