package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	config := Config{
		Enabled:   true,
		Algorithm: SlidingWindow,
		Default: LimitConfig{
			Requests: 5,
			Window:   time.Minute,
		},
		BurstMultiplier: 1.0,
		CleanupInterval: time.Minute,
	}

	rl, err := NewRateLimiter(config)
	require.NoError(t, err)
	defer rl.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := rl.Allow(ctx, GitHubLimiter, "repo-a", config.Default)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(5-i-1), result.Remaining)
		assert.Equal(t, int64(5), result.Limit)
	}

	result, err := rl.Allow(ctx, GitHubLimiter, "repo-a", config.Default)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, int64(0), result.Remaining)
	assert.True(t, result.RetryAfter > 0)
}

func TestRateLimiter_TokenBucket(t *testing.T) {
	config := Config{
		Enabled:   true,
		Algorithm: TokenBucket,
		Default: LimitConfig{
			Requests: 10,
			Window:   time.Minute,
		},
		BurstMultiplier: 2.0,
		CleanupInterval: time.Minute,
	}

	rl, err := NewRateLimiter(config)
	require.NoError(t, err)
	defer rl.Close()

	ctx := context.Background()

	for i := 0; i < 20; i++ {
		result, err := rl.Allow(ctx, CrawlerLimiter, "session-1", config.Default)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := rl.Allow(ctx, CrawlerLimiter, "session-1", config.Default)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.True(t, result.RetryAfter > 0)
}

func TestRateLimiter_DifferentLimitersAreIndependent(t *testing.T) {
	config := Config{
		Enabled:   true,
		Algorithm: SlidingWindow,
		Default: LimitConfig{
			Requests: 3,
			Window:   time.Minute,
		},
		BurstMultiplier: 1.0,
		CleanupInterval: time.Minute,
	}

	rl, err := NewRateLimiter(config)
	require.NoError(t, err)
	defer rl.Close()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := rl.Allow(ctx, GitHubLimiter, "owner/repo", config.Default)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := rl.Allow(ctx, GitHubLimiter, "owner/repo", config.Default)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	// A different limiter type with the same identifier is independent.
	result, err = rl.Allow(ctx, CrawlerLimiter, "owner/repo", config.Default)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRateLimiter_Disabled(t *testing.T) {
	config := Config{
		Enabled:   false,
		Algorithm: SlidingWindow,
		Default: LimitConfig{
			Requests: 1,
			Window:   time.Minute,
		},
	}

	rl, err := NewRateLimiter(config)
	require.NoError(t, err)
	defer rl.Close()

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		result, err := rl.Allow(ctx, GitHubLimiter, "repo", config.Default)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
}

func TestRateLimiter_LimitConfigFor(t *testing.T) {
	rl, err := NewRateLimiter(DefaultConfig())
	require.NoError(t, err)
	defer rl.Close()

	assert.Equal(t, DefaultConfig().GitHub, rl.LimitConfigFor(GitHubLimiter))
	assert.Equal(t, DefaultConfig().Crawler, rl.LimitConfigFor(CrawlerLimiter))
	assert.Equal(t, DefaultConfig().Default, rl.LimitConfigFor(LimiterType("unknown")))
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.True(t, config.Enabled)
	assert.Equal(t, SlidingWindow, config.Algorithm)
	assert.Equal(t, 100, config.Default.Requests)
	assert.Equal(t, time.Minute, config.Default.Window)
	assert.Equal(t, 5000, config.GitHub.Requests)
	assert.Equal(t, 60, config.Crawler.Requests)
	assert.Equal(t, 1.2, config.BurstMultiplier)
	assert.Equal(t, 5*time.Minute, config.CleanupInterval)
}
