package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/l0p7/qrgen/internal/qrcode"
)

// encode runs the encoder and records its latency and outcome.
func (p *Pipeline) encode(ctx context.Context, params qrcode.Params) ([]byte, error) {
	start := time.Now()
	image, err := p.encoder.Encode(ctx, params)
	duration := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.metrics.ObserveGeneration(outcome, duration)

	if p.logger.Enabled(ctx, slog.LevelDebug) {
		attrs := []slog.Attr{
			slog.String("outcome", outcome),
			slog.String("size", params.Size),
			slog.String("level", params.Level),
			slog.Int("bytes", len(image)),
			slog.Float64("latency_ms", float64(duration)/float64(time.Millisecond)),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		p.logger.LogAttrs(ctx, slog.LevelDebug, "qr encoded", attrs...)
	}
	return image, err
}
