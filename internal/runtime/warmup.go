package runtime

import (
	"context"
	"log/slog"

	"github.com/l0p7/qrgen/internal/config"
	"github.com/l0p7/qrgen/internal/qrcode"
	"github.com/l0p7/qrgen/internal/runtime/cache"
)

// Warm generates every request through the normal cache path so popular codes
// are served as hits from the first client request. Requests already cached are
// left alone so warming never counts as client traffic. It returns the number
// of requests that ended up cached.
func (p *Pipeline) Warm(ctx context.Context, reqs []config.WarmupRequest) int {
	p.warmMu.Lock()
	defer p.warmMu.Unlock()

	warmed := 0
	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		opts := qrcode.Options{
			Margin:               req.Margin,
			ErrorCorrectionLevel: req.ErrorCorrectionLevel,
			Color:                req.Color,
			BGColor:              req.BGColor,
		}
		if params, err := qrcode.Build(req.Data, req.Size, opts); err == nil {
			if _, cached := p.store.Peek(fingerprint(params)); cached {
				warmed++
				continue
			}
		}
		gen, err := p.Generate(ctx, req.Data, req.Size, opts, cache.CacheControlDirective{})
		if err != nil {
			p.logger.Warn("cache warmup request failed",
				slog.String("size", req.Size),
				slog.Any("error", err),
			)
			continue
		}
		if gen.Cache != CacheBypass {
			warmed++
		}
		p.logger.Debug("cache warmup request prepared", slog.String("key", gen.Key), slog.String("cache", string(gen.Cache)))
	}
	p.logger.Info("cache warmup completed", slog.Int("requested", len(reqs)), slog.Int("warmed", warmed))
	return warmed
}

// StartWarmup warms the cache from the configured file, or the built-in list
// when none is set. With cfg.Watch and a file, edits to the file re-run the
// warmup; the returned watcher is nil otherwise.
func (p *Pipeline) StartWarmup(ctx context.Context, cfg config.WarmupConfig) (*config.FileWatcher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.File == "" {
		p.Warm(ctx, config.DefaultWarmup())
		return nil, nil
	}

	reqs, err := config.LoadWarmup(cfg.File)
	if err != nil {
		return nil, err
	}
	p.Warm(ctx, reqs)
	if !cfg.Watch {
		return nil, nil
	}

	logger := p.logger.With(slog.String("warmup_file", cfg.File))
	return config.WatchFile(ctx, cfg.File, func() {
		reqs, err := config.LoadWarmup(cfg.File)
		if err != nil {
			logger.Warn("cache warmup reload failed", slog.Any("error", err))
			return
		}
		p.Warm(ctx, reqs)
	}, func(err error) {
		logger.Warn("cache warmup watcher error", slog.Any("error", err))
	})
}
