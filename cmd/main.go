package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/qrgen/internal/config"
	"github.com/l0p7/qrgen/internal/expr"
	"github.com/l0p7/qrgen/internal/logging"
	"github.com/l0p7/qrgen/internal/metrics"
	"github.com/l0p7/qrgen/internal/ratelimit"
	"github.com/l0p7/qrgen/internal/runtime"
	"github.com/l0p7/qrgen/internal/runtime/cache"
	"github.com/l0p7/qrgen/internal/server"
	"github.com/l0p7/qrgen/internal/templates"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "QRGEN", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var files []string
	if *configFile != "" {
		files = append(files, *configFile)
	}
	cfg, err := config.NewLoader(*envPrefix, files...).Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, logCloser, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}
	defer logCloser.Close()

	svc, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("unable to assemble service", slog.Any("error", err))
		os.Exit(1)
	}
	defer svc.Close()

	srv, err := server.New(cfg, logger, svc.handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("qr service starting",
		slog.String("environment", cfg.Server.Environment),
		slog.String("version", cfg.Server.Version),
		slog.Bool("cache_enabled", cfg.Cache.Enabled),
	)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// app holds the assembled service and the resources released on shutdown.
type app struct {
	logger   *slog.Logger
	handler  http.Handler
	pipeline *runtime.Pipeline
	limiter  ratelimit.Limiter
	warmup   *config.FileWatcher
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	metricsRecorder := metrics.NewRecorder(prometheus.NewRegistry())

	store, err := cache.New(cache.Options{
		MaxKeys: cfg.Cache.MaxKeys,
		TTL: cache.TTLPolicy{
			Base:                 cfg.Cache.TTL.Base,
			LargeArea:            cfg.Cache.TTL.LargeArea,
			Large:                cfg.Cache.TTL.Large,
			MediumArea:           cfg.Cache.TTL.MediumArea,
			Medium:               cfg.Cache.TTL.Medium,
			HighCorrectionFactor: cfg.Cache.TTL.HighCorrectionFactor,
			CustomColorFactor:    cfg.Cache.TTL.CustomColorFactor,
		},
		Sweep: cache.SweepPolicy{
			Interval:       cfg.Cache.Sweep.Interval,
			ExpiryInterval: cfg.Cache.Sweep.ExpiryInterval,
			MaxAge:         cfg.Cache.Sweep.MaxAge,
			IdleAfter:      cfg.Cache.Sweep.IdleAfter,
			MinAccessCount: cfg.Cache.Sweep.MinAccessCount,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	admission, err := expr.NewAdmission(cfg.Cache.Admit)
	if err != nil {
		return nil, fmt.Errorf("compile cache admission rule: %w", err)
	}

	var sandbox *templates.Sandbox
	if folder := strings.TrimSpace(cfg.Server.Templates.Folder); folder != "" {
		sb, err := templates.NewSandbox(folder)
		if err != nil {
			logger.Warn("template sandbox setup failed", slog.String("templates_folder", folder), slog.Any("error", err))
		} else {
			sandbox = sb
		}
	}

	pipe, err := runtime.NewPipeline(logger, runtime.PipelineOptions{
		Store:            store,
		CacheDisabled:    !cfg.Cache.Enabled,
		Admission:        admission,
		Renderer:         templates.NewRenderer(sandbox),
		Metrics:          metricsRecorder,
		Version:          cfg.Server.Version,
		Environment:      cfg.Server.Environment,
		RateLimitSummary: rateLimitSummary(cfg.RateLimit),
	})
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger, pipeline: pipe}

	if cfg.Cache.Enabled {
		if err := pipe.Start(); err != nil {
			return nil, fmt.Errorf("start cache maintenance: %w", err)
		}
		watcher, err := pipe.StartWarmup(ctx, cfg.Cache.Warmup)
		if err != nil {
			logger.Error("cache warmup failed", slog.Any("error", err))
		}
		a.warmup = watcher
	}

	if cfg.RateLimit.Enabled {
		a.limiter = buildRateLimiter(logger.With(slog.String("agent", "ratelimit_factory")), cfg.RateLimit)
	}

	handler, err := server.NewRouter(server.RouterOptions{
		Config:   cfg,
		Pipeline: pipe,
		Limiter:  a.limiter,
		Metrics:  metricsRecorder,
		Logger:   logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.handler = handler
	return a, nil
}

// Close stops the warmup watcher, the cache sweeper and the rate limiter.
func (a *app) Close() {
	a.warmup.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.pipeline.Close(shutdownCtx); err != nil {
		a.logger.Error("cache shutdown failed", slog.Any("error", err))
	}
	if a.limiter != nil {
		if err := a.limiter.Close(); err != nil {
			a.logger.Error("rate limiter shutdown failed", slog.Any("error", err))
		}
	}
}

func buildRateLimiter(logger *slog.Logger, cfg config.RateLimitConfig) ratelimit.Limiter {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory rate limiter", slog.Int("max_clients", cfg.MaxClients))
		return ratelimit.NewMemory(cfg.MaxClients)
	case "redis":
		limiter, err := ratelimit.NewRedis(ratelimit.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: ratelimit.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis rate limiter initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory rate limiter")
			return ratelimit.NewMemory(cfg.MaxClients)
		}
		logger.Info("using redis rate limiter", slog.String("address", cfg.Redis.Address))
		return limiter
	default:
		logger.Warn("unsupported rate limit backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return ratelimit.NewMemory(cfg.MaxClients)
	}
}

// rateLimitSummary describes the generation quota for the API info document.
func rateLimitSummary(cfg config.RateLimitConfig) string {
	if !cfg.Enabled {
		return ""
	}
	return fmt.Sprintf("%d requests per %s per IP", cfg.QR.Limit, humanWindow(cfg.QR.Window))
}

func humanWindow(d time.Duration) string {
	switch {
	case d == time.Minute:
		return "minute"
	case d == time.Hour:
		return "hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
