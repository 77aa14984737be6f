package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/l0p7/qrgen/internal/config"
	"github.com/l0p7/qrgen/internal/metrics"
	"github.com/l0p7/qrgen/internal/ratelimit"
)

// PipelineHTTP is the handler surface the router dispatches to.
type PipelineHTTP interface {
	ServeLanding(http.ResponseWriter, *http.Request)
	ServeInfo(http.ResponseWriter, *http.Request)
	ServeQR(http.ResponseWriter, *http.Request)
	ServeQRURL(http.ResponseWriter, *http.Request)
	ServeBatch(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
	ServeCacheStats(http.ResponseWriter, *http.Request)
	ServeCacheHealth(http.ResponseWriter, *http.Request)
	ServeCacheClear(http.ResponseWriter, *http.Request)
	ServeCacheDelete(http.ResponseWriter, *http.Request)
	ServeNotFound(http.ResponseWriter, *http.Request)
}

// RouterOptions carries the collaborators of NewRouter. Limiter may be nil to
// disable rate limiting; Metrics may be nil to disable /metrics and request
// instrumentation.
type RouterOptions struct {
	Config   config.Config
	Pipeline PipelineHTTP
	Limiter  ratelimit.Limiter
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// NewRouter builds the route table and wraps it in the middleware chain:
// recovery, security headers, compression, request logging (outside
// production), CORS and the body limit. Rate limits, input sanitizing and API
// key checks are attached per route.
func NewRouter(opts RouterOptions) (http.Handler, error) {
	p := opts.Pipeline
	if p == nil {
		return nil, errors.New("server: pipeline required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("agent", "router"))
	cfg := opts.Config
	production := cfg.Server.IsProduction()

	clientIP := func(r *http.Request) string {
		return ratelimit.ClientIP(r, cfg.RateLimit.TrustProxy)
	}

	var general, qr, strict Middleware
	if opts.Limiter != nil && cfg.RateLimit.Enabled {
		limit := func(name string, rule config.RateLimitRule) Middleware {
			return ratelimit.Middleware(opts.Limiter, ratelimit.Rule{
				Name:   name,
				Limit:  rule.Limit,
				Window: rule.Window,
			}, clientIP, logger)
		}
		general = limit("general", cfg.RateLimit.General)
		qr = limit("qr", cfg.RateLimit.QR)
		strict = limit("strict", cfg.RateLimit.Strict)
	}
	key := apiKey(cfg.Server.Security.APIKeys)

	api := func(h http.HandlerFunc, mws ...Middleware) http.Handler {
		return chain(h, append(append([]Middleware{general}, mws...), key)...)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", p.ServeLanding)
	mux.HandleFunc("GET /health", p.ServeHealth)
	mux.Handle("GET /metrics", opts.Metrics.Handler())

	mux.Handle("GET /api", api(p.ServeInfo))
	mux.Handle("GET /api/qr", api(p.ServeQR, qr, sanitizeData))
	mux.Handle("GET /api/qr/url", api(p.ServeQRURL, qr, sanitizeData))
	mux.Handle("POST /api/qr/batch", api(p.ServeBatch, qr, strict))
	mux.Handle("GET /api/cache/stats", api(p.ServeCacheStats))
	if !production {
		mux.Handle("POST /api/cache/clear", api(p.ServeCacheClear, strict))
		mux.Handle("GET /api/cache/health", api(p.ServeCacheHealth, strict))
		mux.Handle("DELETE /api/cache/{key}", api(p.ServeCacheDelete, strict))
	}
	mux.Handle("/api/", api(p.ServeNotFound))
	mux.HandleFunc("/", p.ServeNotFound)

	gzip, err := compression(cfg.Server.Security.CompressionLevel, cfg.Server.Security.CompressionMinLen)
	if err != nil {
		return nil, err
	}
	var logRequests Middleware
	if !production {
		logRequests = requestLogger(logger, clientIP)
	}

	return chain(mux,
		recovery(logger, production),
		securityHeaders,
		gzip,
		logRequests,
		corsPolicy(cfg.Server),
		bodyLimit(cfg.Server.Security.MaxBodyBytes),
		instrument(opts.Metrics),
	), nil
}
