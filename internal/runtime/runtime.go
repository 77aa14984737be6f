package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/l0p7/qrgen/internal/expr"
	"github.com/l0p7/qrgen/internal/metrics"
	"github.com/l0p7/qrgen/internal/qrcode"
	"github.com/l0p7/qrgen/internal/runtime/cache"
	"github.com/l0p7/qrgen/internal/templates"
)

const (
	// MaxBatchSize bounds the number of requests accepted by ServeBatch.
	MaxBatchSize = 50

	batchConcurrency = 8
	defaultVersion   = "1.2.0"
)

// CacheStatus reports how a generation request interacted with the cache. It
// is echoed to clients in the X-Cache header.
type CacheStatus string

const (
	CacheHit    CacheStatus = "HIT"
	CacheMiss   CacheStatus = "MISS"
	CacheBypass CacheStatus = "BYPASS"
)

// Encoder renders validated parameters to PNG bytes.
type Encoder interface {
	Encode(ctx context.Context, p qrcode.Params) ([]byte, error)
}

type PipelineOptions struct {
	Store *cache.Store
	// CacheDisabled makes every request bypass the store.
	CacheDisabled bool
	Admission     *expr.Admission
	Encoder       Encoder
	Renderer      *templates.Renderer
	Metrics       *metrics.Recorder
	Version       string
	Environment   string
	// RateLimitSummary is shown in the API info document, e.g. "60 requests per 1m0s per IP".
	RateLimitSummary string
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Pipeline turns HTTP requests into QR images, consulting the image cache in
// front of the encoder.
type Pipeline struct {
	logger      *slog.Logger
	store       *cache.Store
	cacheOn     bool
	admission   *expr.Admission
	encoder     Encoder
	renderer    *templates.Renderer
	metrics     *metrics.Recorder
	version     string
	environment string
	rateSummary string
	now         func() time.Time
	started     time.Time

	flight singleflight.Group

	warmMu sync.Mutex
}

// Generation is the outcome of a successful Generate call. Image must be
// treated as read-only: it may be shared with the cache and concurrent callers.
type Generation struct {
	Image  []byte
	Params qrcode.Params
	Key    string
	Cache  CacheStatus
}

func NewPipeline(logger *slog.Logger, opts PipelineOptions) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store := opts.Store
	if store == nil {
		var err error
		store, err = cache.New(cache.Options{Logger: logger, Clock: opts.Clock})
		if err != nil {
			return nil, fmt.Errorf("runtime: build cache: %w", err)
		}
	}
	encoder := opts.Encoder
	if encoder == nil {
		encoder = qrcode.NewEncoder()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = templates.NewRenderer(nil)
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = defaultVersion
	}
	environment := strings.TrimSpace(opts.Environment)
	if environment == "" {
		environment = "development"
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	p := &Pipeline{
		logger:      logger.With(slog.String("agent", "pipeline")),
		store:       store,
		cacheOn:     !opts.CacheDisabled,
		admission:   opts.Admission,
		encoder:     encoder,
		renderer:    renderer,
		metrics:     opts.Metrics,
		version:     version,
		environment: environment,
		rateSummary: opts.RateLimitSummary,
		now:         now,
		started:     now(),
	}
	p.metrics.BindCache(p.cacheSnapshot)
	return p, nil
}

// Store exposes the image cache owned by the pipeline.
func (p *Pipeline) Store() *cache.Store { return p.store }

// Start launches the cache sweeper.
func (p *Pipeline) Start() error {
	return p.store.Start()
}

// Close stops background cache maintenance.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.store.Close(ctx)
}

// Generate validates the request, then serves it from the cache or encodes it.
// Concurrent misses for the same key share one encoding.
func (p *Pipeline) Generate(ctx context.Context, data, size string, opts qrcode.Options, directive cache.CacheControlDirective) (Generation, error) {
	params, err := qrcode.Build(data, size, opts)
	if err != nil {
		return Generation{}, err
	}
	key := fingerprint(params)
	gen := Generation{Params: params, Key: key}

	if !p.cacheable(params) {
		p.metrics.ObserveCacheLookup(metrics.CacheLookupBypass)
		gen.Image, err = p.encode(ctx, params)
		gen.Cache = CacheBypass
		return gen, err
	}

	if directive.AllowsLookup() {
		fresh := func(meta cache.EntryMetadata) bool {
			return directive.Acceptable(meta.CreatedAt, p.now())
		}
		if entry, ok := p.store.GetIf(key, fresh); ok {
			p.metrics.ObserveCacheLookup(metrics.CacheLookupHit)
			gen.Image = entry.Image
			gen.Cache = CacheHit
			return gen, nil
		}
	}
	p.metrics.ObserveCacheLookup(metrics.CacheLookupMiss)

	store := directive.AllowsStore()
	flightKey := key
	if !store {
		flightKey += "|no-store"
	}
	// The shared encoding must not fail because the caller that started it went away.
	shared := context.WithoutCancel(ctx)
	image, err, _ := p.flight.Do(flightKey, func() (any, error) {
		image, err := p.encode(shared, params)
		if err != nil {
			return nil, err
		}
		if !store {
			p.metrics.ObserveCacheStore(metrics.CacheStoreSkipped)
			return image, nil
		}
		meta := cache.Metadata{
			Size:                 params.Size,
			ErrorCorrectionLevel: params.Level,
			DarkColor:            params.Dark,
			LightColor:           params.Light,
		}
		if p.store.Set(key, image, meta) {
			p.metrics.ObserveCacheStore(metrics.CacheStoreStored)
		} else {
			p.metrics.ObserveCacheStore(metrics.CacheStoreSkipped)
		}
		return image, nil
	})
	if err != nil {
		return Generation{}, err
	}
	gen.Image = image.([]byte)
	gen.Cache = CacheMiss
	return gen, nil
}

func fingerprint(params qrcode.Params) string {
	margin := params.Margin
	return cache.Fingerprint(cache.Request{
		Text:   params.Data,
		Size:   params.Size,
		Margin: &margin,
		Level:  params.Level,
		Dark:   params.Dark,
		Light:  params.Light,
	})
}

// cacheable applies the cache switch and the admission rule. A rule that fails
// to evaluate keeps the request away from the cache.
func (p *Pipeline) cacheable(params qrcode.Params) bool {
	if !p.cacheOn {
		return false
	}
	ok, err := p.admission.Admit(expr.Subject{
		Data:   params.Data,
		Width:  params.Width,
		Height: params.Height,
		Margin: params.Margin,
		Level:  params.Level,
		Dark:   params.Dark,
		Light:  params.Light,
	})
	if err != nil {
		p.logger.Warn("cache admission failed, bypassing cache",
			slog.String("rule", p.admission.Source()),
			slog.Any("error", err),
		)
		return false
	}
	return ok
}

func (p *Pipeline) cacheSnapshot() metrics.CacheSnapshot {
	stats := p.store.Stats()
	return metrics.CacheSnapshot{HitRate: stats.HitRate, Keys: stats.Keys, ValueBytes: stats.ValueBytes}
}

// WriteError emits a JSON error payload. Extra fields are merged into the body.
func (p *Pipeline) WriteError(w http.ResponseWriter, status int, message string, extra map[string]any) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	payload := map[string]any{"error": message}
	for k, v := range extra {
		payload[k] = v
	}
	p.writeJSON(w, status, payload)
}

// writeGenerationError maps Generate failures onto HTTP statuses: invalid
// input is 400, an unencodable payload 422 and anything else 500.
func (p *Pipeline) writeGenerationError(w http.ResponseWriter, err error, fallback string) {
	var validation *qrcode.ValidationError
	var encoding *qrcode.EncodingError
	switch {
	case errors.As(err, &validation):
		extra := map[string]any{}
		if validation.Received != "" {
			extra["received"] = validation.Received
		}
		p.WriteError(w, http.StatusBadRequest, validation.Message, extra)
	case errors.As(err, &encoding):
		p.WriteError(w, http.StatusUnprocessableEntity, fallback, map[string]any{"details": encoding.Reason})
	default:
		p.logger.Error("qr generation failed", slog.Any("error", err))
		extra := map[string]any{}
		if p.environment != "production" {
			extra["details"] = err.Error()
		}
		p.WriteError(w, http.StatusInternalServerError, fallback, extra)
	}
}

func (p *Pipeline) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		p.logger.Error("response encode failed", slog.Any("error", err))
	}
}

// errorMessage returns the client facing text for a failed generation.
func errorMessage(err error) string {
	var validation *qrcode.ValidationError
	if errors.As(err, &validation) {
		return validation.Message
	}
	var encoding *qrcode.EncodingError
	if errors.As(err, &encoding) {
		return "Failed to generate QR code: " + encoding.Reason
	}
	return err.Error()
}
