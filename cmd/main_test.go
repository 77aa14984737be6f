package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/qrgen/internal/config"
	"github.com/l0p7/qrgen/internal/ratelimit"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestBuildRateLimiter(t *testing.T) {
	rule := ratelimit.Rule{Name: "probe", Limit: 1, Window: time.Minute}

	tests := []struct {
		name   string
		cfg    func(t *testing.T) config.RateLimitConfig
		verify func(t *testing.T, limiter ratelimit.Limiter)
	}{
		{
			name: "defaults to memory",
			cfg: func(t *testing.T) config.RateLimitConfig {
				return config.RateLimitConfig{MaxClients: 10}
			},
			verify: func(t *testing.T, limiter ratelimit.Limiter) {
				require.IsType(t, &ratelimit.Memory{}, limiter)
			},
		},
		{
			name: "constructs redis limiter",
			cfg: func(t *testing.T) config.RateLimitConfig {
				server, err := miniredis.Run()
				if err != nil {
					if strings.Contains(err.Error(), "operation not permitted") {
						t.Skip("miniredis unavailable in sandbox")
					}
					require.NoError(t, err)
				}
				t.Cleanup(server.Close)
				return config.RateLimitConfig{
					Backend: "redis",
					Redis:   config.RedisConfig{Address: server.Addr()},
				}
			},
			verify: func(t *testing.T, limiter ratelimit.Limiter) {
				require.IsType(t, &ratelimit.Redis{}, limiter)
				ctx := context.Background()
				first, err := limiter.Allow(ctx, rule, "10.0.0.1")
				require.NoError(t, err)
				require.True(t, first.Allowed)
				second, err := limiter.Allow(ctx, rule, "10.0.0.1")
				require.NoError(t, err)
				require.False(t, second.Allowed)
			},
		},
		{
			name: "falls back to memory when redis is unreachable",
			cfg: func(t *testing.T) config.RateLimitConfig {
				return config.RateLimitConfig{
					Backend: "redis",
					Redis:   config.RedisConfig{Address: "127.0.0.1:1"},
				}
			},
			verify: func(t *testing.T, limiter ratelimit.Limiter) {
				require.IsType(t, &ratelimit.Memory{}, limiter)
			},
		},
		{
			name: "unknown backend defaults to memory",
			cfg: func(t *testing.T) config.RateLimitConfig {
				return config.RateLimitConfig{Backend: "etcd"}
			},
			verify: func(t *testing.T, limiter ratelimit.Limiter) {
				require.IsType(t, &ratelimit.Memory{}, limiter)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			limiter := buildRateLimiter(newTestLogger(), tc.cfg(t))
			t.Cleanup(func() { require.NoError(t, limiter.Close()) })
			tc.verify(t, limiter)
		})
	}
}

func TestRateLimitSummary(t *testing.T) {
	cfg := config.DefaultConfig().RateLimit
	require.Equal(t, "60 requests per minute per IP", rateLimitSummary(cfg))

	cfg.QR = config.RateLimitRule{Limit: 500, Window: 2 * time.Hour}
	require.Equal(t, "500 requests per 2 hours per IP", rateLimitSummary(cfg))

	cfg.QR.Window = 15 * time.Minute
	require.Equal(t, "500 requests per 15 minutes per IP", rateLimitSummary(cfg))

	cfg.Enabled = false
	require.Empty(t, rateLimitSummary(cfg))
}

func newServiceExpect(t *testing.T, cfg config.Config) (*app, *httpexpect.Expect) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, err := buildApp(ctx, cfg, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	srv := httptest.NewServer(svc.handler)
	t.Cleanup(srv.Close)
	return svc, httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   srv.Client(),
	})
}

func TestServiceEndToEnd(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Warmup.Enabled = false
	svc, e := newServiceExpect(t, cfg)

	first := e.GET("/api/qr").
		WithQuery("data", "Hello World").
		Expect().
		Status(http.StatusOK)
	first.Header("Content-Type").IsEqual("image/png")
	first.Header("X-Cache").IsEqual("MISS")
	first.Header("X-Content-Type-Options").IsEqual("nosniff")
	first.Header("RateLimit-Limit").IsEqual("60")
	require.True(t, strings.HasPrefix(first.Body().Raw(), "\x89PNG"))

	e.GET("/api/qr").
		WithQuery("data", "Hello World").
		Expect().
		Status(http.StatusOK).
		Header("X-Cache").IsEqual("HIT")
	require.Equal(t, 1, svc.pipeline.Store().Len())

	e.GET("/api").
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("limits").Object().
		Value("rate_limit").String().IsEqual("60 requests per minute per IP")

	e.GET("/api/cache/stats").
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("cache_performance").Object().
		Value("hit_rate").String().IsEqual("50%")

	e.GET("/metrics").
		Expect().
		Status(http.StatusOK).
		Body().Contains("qr_cache_keys_total 1")

	e.GET("/missing").
		Expect().
		Status(http.StatusNotFound).
		JSON().Object().
		Value("available_endpoints").Array().NotEmpty()
}

func TestServiceWarmsCacheAtStartup(t *testing.T) {
	cfg := config.DefaultConfig()
	svc, e := newServiceExpect(t, cfg)
	require.Equal(t, len(config.DefaultWarmup()), svc.pipeline.Store().Len())

	e.GET("/api/qr").
		WithQuery("data", "https://example.com").
		WithQuery("size", "300x300").
		Expect().
		Status(http.StatusOK).
		Header("X-Cache").IsEqual("HIT")
}

func TestServiceWithCacheDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Enabled = false
	cfg.RateLimit.Enabled = false
	svc, e := newServiceExpect(t, cfg)

	for range 2 {
		resp := e.GET("/api/qr").
			WithQuery("data", "uncached").
			Expect().
			Status(http.StatusOK)
		resp.Header("X-Cache").IsEqual("BYPASS")
		resp.Header("RateLimit-Limit").IsEmpty()
	}
	require.Zero(t, svc.pipeline.Store().Len())
	require.Nil(t, svc.limiter)
}

func TestBuildAppRejectsBadAdmissionRule(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Admit = "width +"
	_, err := buildApp(context.Background(), cfg, newTestLogger())
	require.ErrorContains(t, err, "compile cache admission rule")
}
