package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/l0p7/qrgen/internal/qrcode"
	"github.com/l0p7/qrgen/internal/runtime/cache"
	"github.com/l0p7/qrgen/internal/templates"
)

const qrExample = "/api/qr?data=example.com&size=300x300&margin=1&el=M"

// Endpoints lists the public routes advertised by the 404 handler.
var Endpoints = []string{
	"GET /",
	"GET /api",
	"GET /api/qr",
	"GET /api/qr/url",
	"POST /api/qr/batch",
	"GET /health",
	"GET /metrics",
}

// ServeQR renders a PNG. Responses carry an ETag derived from the image bytes
// and honor If-None-Match.
func (p *Pipeline) ServeQR(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := q.Get("data")
	if data == "" {
		p.WriteError(w, http.StatusBadRequest, "Data parameter is required", map[string]any{"example": qrExample})
		return
	}

	gen, err := p.Generate(r.Context(), data, q.Get("size"), qrcode.OptionsFromQuery(q), cache.ParseCacheControl(r.Header.Get("Cache-Control")))
	if err != nil {
		p.writeGenerationError(w, err, "Failed to generate QR code")
		return
	}

	etag := strconv.Quote(strconv.FormatUint(xxhash.Sum64(gen.Image), 16))
	header := w.Header()
	header.Set("ETag", etag)
	header.Set("X-Cache", string(gen.Cache))
	header.Set("Cache-Control", "public, max-age=3600")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	header.Set("Content-Type", "image/png")
	header.Set("Content-Disposition", fmt.Sprintf(`inline; filename="qr-code-%d.png"`, p.now().UnixMilli()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(gen.Image); err != nil {
		p.logger.Debug("qr response write failed", slog.Any("error", err))
	}
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

type qrPayload struct {
	URL     string          `json:"url"`
	Size    string          `json:"size"`
	Content string          `json:"content"`
	Options *qrcode.Options `json:"options,omitempty"`
}

// ServeQRURL returns the image as a base64 data URL inside a JSON document.
func (p *Pipeline) ServeQRURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := q.Get("data")
	if data == "" {
		p.WriteError(w, http.StatusBadRequest, "Data parameter is required", nil)
		return
	}
	opts := qrcode.OptionsFromQuery(q)
	gen, err := p.Generate(r.Context(), data, q.Get("size"), opts, cache.ParseCacheControl(r.Header.Get("Cache-Control")))
	if err != nil {
		p.writeGenerationError(w, err, "Failed to generate QR code URL")
		return
	}
	w.Header().Set("X-Cache", string(gen.Cache))
	p.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": qrPayload{
			URL:     qrcode.DataURL(gen.Image),
			Size:    gen.Params.Size,
			Content: data,
			Options: &opts,
		},
	})
}

// BatchItem is one entry of a batch request.
type BatchItem struct {
	Data    string         `json:"data"`
	Size    string         `json:"size,omitempty"`
	Options qrcode.Options `json:"options"`
}

type batchRequest struct {
	Requests []BatchItem `json:"requests"`
}

type batchResult struct {
	Index   int       `json:"index"`
	Success bool      `json:"success"`
	Data    qrPayload `json:"data"`
}

type batchError struct {
	Index   int       `json:"index"`
	Error   string    `json:"error"`
	Request BatchItem `json:"request"`
}

// ServeBatch generates up to MaxBatchSize images concurrently. Individual
// failures are reported per item; results and errors are ordered by index.
func (p *Pipeline) ServeBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			p.WriteError(w, http.StatusRequestEntityTooLarge, "Payload too large", map[string]any{"limit": tooLarge.Limit})
			return
		}
		p.WriteError(w, http.StatusBadRequest, "Invalid batch request", map[string]any{"message": "Request body must be valid JSON"})
		return
	}
	if len(body.Requests) == 0 {
		p.WriteError(w, http.StatusBadRequest, "Invalid batch request", map[string]any{"message": "Requests must be a non-empty array"})
		return
	}
	if len(body.Requests) > MaxBatchSize {
		p.WriteError(w, http.StatusBadRequest, "Batch size too large", map[string]any{
			"message":  fmt.Sprintf("Maximum %d requests per batch", MaxBatchSize),
			"received": len(body.Requests),
			"maximum":  MaxBatchSize,
		})
		return
	}

	directive := cache.ParseCacheControl(r.Header.Get("Cache-Control"))
	results := make([]*batchResult, len(body.Requests))
	failures := make([]*batchError, len(body.Requests))

	var g errgroup.Group
	g.SetLimit(batchConcurrency)
	for i, item := range body.Requests {
		g.Go(func() error {
			gen, err := p.Generate(r.Context(), item.Data, item.Size, item.Options, directive)
			if err != nil {
				failures[i] = &batchError{Index: i, Error: errorMessage(err), Request: item}
				return nil
			}
			results[i] = &batchResult{
				Index:   i,
				Success: true,
				Data: qrPayload{
					URL:     qrcode.DataURL(gen.Image),
					Size:    gen.Params.Size,
					Content: item.Data,
				},
			}
			return nil
		})
	}
	_ = g.Wait()

	payload := map[string]any{
		"success":   true,
		"processed": len(body.Requests),
	}
	okResults := make([]batchResult, 0, len(results))
	for _, res := range results {
		if res != nil {
			okResults = append(okResults, *res)
		}
	}
	var errs []batchError
	for _, failure := range failures {
		if failure != nil {
			errs = append(errs, *failure)
		}
	}
	payload["successful"] = len(okResults)
	payload["failed"] = len(errs)
	payload["results"] = okResults
	if len(errs) > 0 {
		payload["errors"] = errs
	}
	p.writeJSON(w, http.StatusOK, payload)
}

// ServeInfo returns the API reference document.
func (p *Pipeline) ServeInfo(w http.ResponseWriter, _ *http.Request) {
	rateLimit := p.rateSummary
	if rateLimit == "" {
		rateLimit = "disabled"
	}
	query := "data=<your_data>&size=<optional_size>&margin=<optional_margin>&el=<optional_level>&color=<optional_color>&bgcolor=<optional_color>"
	p.writeJSON(w, http.StatusOK, map[string]any{
		"name":        "QRGen API",
		"version":     p.version,
		"description": "Advanced QR Code Generation API with enterprise features",
		"timestamp":   p.now().UTC().Format(timestampLayout),
		"endpoints": map[string]any{
			"qr_generation": map[string]any{
				"image":       "/api/qr?" + query,
				"data_url":    "/api/qr/url?" + query,
				"batch":       "/api/qr/batch (POST)",
				"description": fmt.Sprintf("QR code generation endpoints. Use /api/qr/batch for batch QR code generation (POST, JSON body: { requests: [...] }, max %d).", MaxBatchSize),
			},
			"system": map[string]any{
				"health":      "/health",
				"metrics":     "/metrics",
				"cache_stats": "/api/cache/stats",
				"description": "System monitoring and statistics",
			},
		},
		"features": []string{
			"High-performance QR code generation",
			"Advanced caching system",
			"Rate limiting and security",
			"Input validation and sanitization",
			"Comprehensive error handling",
			"Real-time monitoring",
			"Batch processing support",
			"Multiple output formats",
		},
		"limits": map[string]any{
			"rate_limit":        rateLimit,
			"data_length":       fmt.Sprintf("%d characters maximum", qrcode.MaxDataLength),
			"size_range":        fmt.Sprintf("%dx%d to %dx%d pixels", qrcode.MinDimension, qrcode.MinDimension, qrcode.MaxDimension, qrcode.MaxDimension),
			"supported_formats": []string{"PNG", "Data URL"},
		},
		"examples": map[string]any{
			"basic":        "/api/qr?data=Hello%20World",
			"custom_size":  "/api/qr?data=example.com&size=500x500",
			"high_quality": "/api/qr?data=important-data&el=H&margin=3",
			"branded":      "/api/qr?data=company.com&color=FF6B35&bgcolor=F7F7F7",
		},
	})
}

var landingExamples = []struct {
	label string
	query url.Values
}{
	{"hello world", url.Values{"data": {"Hello World"}, "size": {"300x300"}}},
	{"custom size", url.Values{"data": {"example.com"}, "size": {"500x500"}}},
	{"high quality", url.Values{"data": {"important-data"}, "el": {"H"}, "margin": {"3"}}},
	{"branded", url.Values{"data": {"company.com"}, "color": {"FF6B35"}, "bgcolor": {"F7F7F7"}}},
}

// ServeLanding renders the HTML landing page.
func (p *Pipeline) ServeLanding(w http.ResponseWriter, _ *http.Request) {
	page, err := p.renderer.Landing()
	if err != nil {
		p.logger.Error("landing page compile failed", slog.Any("error", err))
		p.WriteError(w, http.StatusInternalServerError, "Internal server error", nil)
		return
	}
	data := templates.LandingData{
		Version:     p.version,
		Environment: p.environment,
		MaxData:     qrcode.MaxDataLength,
		MinSize:     qrcode.MinDimension,
		MaxSize:     qrcode.MaxDimension,
	}
	for _, ex := range landingExamples {
		size := ex.query.Get("size")
		if size == "" {
			size = cache.DefaultSize
		}
		data.Examples = append(data.Examples, templates.Example{
			Label: ex.label,
			Data:  ex.query.Get("data"),
			Size:  size,
			Href:  template.URL("/api/qr?" + ex.query.Encode()),
		})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(w, data); err != nil {
		p.logger.Error("landing page render failed", slog.Any("error", err))
		p.WriteError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}

// ServeNotFound answers unknown routes with the list of public endpoints.
func (p *Pipeline) ServeNotFound(w http.ResponseWriter, r *http.Request) {
	p.WriteError(w, http.StatusNotFound, "Endpoint not found", map[string]any{
		"message":             fmt.Sprintf("The requested endpoint %s %s was not found", r.Method, r.URL.RequestURI()),
		"available_endpoints": Endpoints,
	})
}
