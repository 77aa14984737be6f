package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(server.Close)

	limiter, err := NewRedis(RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })
	return limiter, server
}

func TestRedisFixedWindow(t *testing.T) {
	limiter, server := newTestRedis(t)
	rule := Rule{Name: "qr", Limit: 2, Window: time.Minute}
	ctx := context.Background()

	for i := range 2 {
		res, err := limiter.Allow(ctx, rule, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, res.Allowed)
		require.Equal(t, 1-i, res.Remaining)
	}

	res, err := limiter.Allow(ctx, rule, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Zero(t, res.Remaining)
	require.Equal(t, time.Minute, res.RetryAfter)

	require.Equal(t, time.Minute, server.TTL(redisKeyPrefix+"qr:10.0.0.1"))

	server.FastForward(time.Minute)
	res, err = limiter.Allow(ctx, rule, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestRedisRepairsMissingExpiry(t *testing.T) {
	limiter, server := newTestRedis(t)
	rule := Rule{Name: "general", Limit: 5, Window: 15 * time.Minute}
	key := redisKeyPrefix + "general:c"
	require.NoError(t, server.Set(key, "3"))

	res, err := limiter.Allow(context.Background(), rule, "c")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 1, res.Remaining)
	require.Equal(t, 15*time.Minute, server.TTL(key))
}

func TestRedisRequiresAddress(t *testing.T) {
	_, err := NewRedis(RedisConfig{})
	require.Error(t, err)
}

func TestRedisErrorsOnClosedServer(t *testing.T) {
	limiter, server := newTestRedis(t)
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := limiter.Allow(ctx, Rule{Name: "qr", Limit: 1, Window: time.Minute}, "c")
	require.Error(t, err)
}
