package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/config"
)

func TestFromConfig(t *testing.T) {
	got := FromConfig(config.RateLimitConfig{
		RequestsPerSecond: 3,
		BurstSize:         2,
		MinDelay:          time.Second,
	})
	assert.Equal(t, Config{RequestsPerSecond: 3, BurstSize: 2, MinDelay: time.Second}, got)
}

func TestLimiter_ZeroRateIsUnlimited(t *testing.T) {
	limiter := NewLimiter(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.WaitForHost(ctx, "example.com"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	stats := limiter.Stats()
	assert.Equal(t, int64(100), stats.Requests)
	assert.Zero(t, stats.Delayed)
	assert.Equal(t, 1, stats.Hosts)
}

func TestLimiter_GlobalBucketAcrossHosts(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 2})
	ctx := context.Background()

	// the burst passes immediately
	start := time.Now()
	require.NoError(t, limiter.WaitForHost(ctx, "a.example"))
	require.NoError(t, limiter.WaitForHost(ctx, "b.example"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	// a third host still waits for a token
	start = time.Now()
	require.NoError(t, limiter.WaitForHost(ctx, "c.example"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_WaitForHost_SpacesSameHost(t *testing.T) {
	cfg := Config{RequestsPerSecond: 100, BurstSize: 10, MinDelay: 50 * time.Millisecond}
	limiter := NewLimiter(cfg)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.WaitForHost(ctx, "example.com"))
	assert.Less(t, time.Since(start), 20*time.Millisecond)

	start = time.Now()
	require.NoError(t, limiter.WaitForHost(ctx, "example.com"))
	assert.GreaterOrEqual(t, time.Since(start), cfg.MinDelay-5*time.Millisecond)

	stats := limiter.Stats()
	assert.Equal(t, int64(1), stats.Delayed)
	assert.Greater(t, stats.Waited, time.Duration(0))
}

func TestLimiter_WaitForHost_ConcurrentSameHost(t *testing.T) {
	cfg := Config{RequestsPerSecond: 1000, BurstSize: 10, MinDelay: 20 * time.Millisecond}
	limiter := NewLimiter(cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, limiter.WaitForHost(ctx, "example.com"))
		}()
	}
	wg.Wait()

	// four requests need three intervals
	assert.GreaterOrEqual(t, time.Since(start), 3*cfg.MinDelay-10*time.Millisecond)
}

func TestLimiter_WaitForHost_DifferentHosts(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 10, MinDelay: 100 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	for _, host := range []string{"example1.com", "example2.com", "example3.com"} {
		require.NoError(t, limiter.WaitForHost(ctx, host))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 3, limiter.Stats().Hosts)
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, MinDelay: time.Second})
	require.NoError(t, limiter.WaitForHost(context.Background(), "slow.example"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, limiter.WaitForHost(ctx, "slow.example"), context.Canceled)
}
