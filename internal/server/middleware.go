package server

import (
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/cors"

	"github.com/l0p7/qrgen/internal/config"
	"github.com/l0p7/qrgen/internal/metrics"
)

// Middleware decorates a handler.
type Middleware func(http.Handler) http.Handler

// chain applies mws so that the first one is the outermost.
func chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// statusRecorder captures the status code and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func writeJSONError(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// recovery converts handler panics into a 500 response. Panic details are
// only returned outside production.
func recovery(logger *slog.Logger, production bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				payload := map[string]any{
					"error":     "Internal server error",
					"message":   "Something went wrong",
					"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
				}
				if !production {
					payload["message"] = fmt.Sprint(rec)
				}
				writeJSONError(w, http.StatusInternalServerError, payload)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

const contentSecurityPolicy = "default-src 'self';" +
	"style-src 'self' 'unsafe-inline' https://cdn.jsdelivr.net;" +
	"script-src 'self' 'unsafe-inline';" +
	"img-src 'self' data: blob: https:;" +
	"connect-src 'self';" +
	"font-src 'self' https://cdn.jsdelivr.net;" +
	"object-src 'none';" +
	"media-src 'self';" +
	"frame-src 'none';" +
	"script-src-attr 'unsafe-inline';" +
	"base-uri 'self';" +
	"form-action 'self';" +
	"frame-ancestors 'self';" +
	"upgrade-insecure-requests"

var securityHeaderValues = [][2]string{
	{"Content-Security-Policy", contentSecurityPolicy},
	{"Cross-Origin-Opener-Policy", "same-origin"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
	{"Origin-Agent-Cluster", "?1"},
	{"Referrer-Policy", "no-referrer"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-DNS-Prefetch-Control", "off"},
	{"X-Download-Options", "noopen"},
	{"X-Frame-Options", "SAMEORIGIN"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
	{"X-XSS-Protection", "0"},
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		for _, kv := range securityHeaderValues {
			header.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}

// compression gzips responses of at least minSize bytes. Clients sending
// X-No-Compression always get the identity encoding.
func compression(level, minSize int) (Middleware, error) {
	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(minSize), gzhttp.CompressionLevel(level))
	if err != nil {
		return nil, fmt.Errorf("server: build gzip wrapper: %w", err)
	}
	return func(next http.Handler) http.Handler {
		gz := wrap(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-No-Compression") != "" {
				next.ServeHTTP(w, r)
				return
			}
			gz.ServeHTTP(w, r)
		})
	}, nil
}

func requestLogger(logger *slog.Logger, clientIP func(*http.Request) string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
				slog.String("method", r.Method),
				slog.String("url", r.URL.RequestURI()),
				slog.String("ip", clientIP(r)),
				slog.String("user_agent", r.UserAgent()),
				slog.Int("status", rec.code()),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", rec.bytes),
			)
		})
	}
}

// corsPolicy reflects any origin outside production and restricts to the
// configured list in production.
func corsPolicy(cfg config.ServerConfig) Middleware {
	opts := cors.Options{
		AllowedMethods:       []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete},
		AllowedHeaders:       []string{"Content-Type", "Cache-Control", "If-None-Match", "X-API-Key", "X-No-Compression"},
		ExposedHeaders:       []string{"ETag", "X-Cache", "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After"},
		AllowCredentials:     true,
		OptionsSuccessStatus: http.StatusOK,
	}
	if cfg.IsProduction() {
		opts.AllowedOrigins = cfg.CORS.AllowedOrigins
	} else {
		opts.AllowOriginFunc = func(string) bool { return true }
	}
	return cors.New(opts).Handler
}

// bodyLimit caps request bodies. Declared oversized bodies are rejected up
// front; streamed ones fail inside the handler with *http.MaxBytesError.
func bodyLimit(limit int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				writeJSONError(w, http.StatusRequestEntityTooLarge, map[string]any{
					"error":   "Payload too large",
					"message": "Request body exceeds maximum size limit",
				})
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

var stripHTML = bluemonday.StrictPolicy()

// sanitizeData removes markup from the data query parameter. Data without
// markup is passed through untouched, including literal entities such as
// "&lt;b&gt;".
func sanitizeData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if data := q.Get("data"); data != "" {
			clean := html.UnescapeString(stripHTML.Sanitize(data))
			if clean != html.UnescapeString(data) {
				q.Set("data", clean)
				r.URL.RawQuery = q.Encode()
			}
		}
		next.ServeHTTP(w, r)
	})
}

// apiKey validates an optional key from the X-API-Key header or the apiKey
// query parameter. Keys must be UUIDs; when allowed is non-empty the key must
// also be listed. Requests without a key pass through.
func apiKey(allowed []string) Middleware {
	normalized := make([]string, 0, len(allowed))
	for _, key := range allowed {
		if parsed, err := uuid.Parse(strings.TrimSpace(key)); err == nil {
			normalized = append(normalized, parsed.String())
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("apiKey")
			}
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			parsed, err := uuid.Parse(key)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, map[string]any{
					"error":   "Invalid API key format",
					"message": "API key must be a valid UUID",
				})
				return
			}
			if len(normalized) > 0 && !slices.Contains(normalized, parsed.String()) {
				writeJSONError(w, http.StatusUnauthorized, map[string]any{
					"error":   "Invalid API key",
					"message": "API key is not authorized",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// instrument records request metrics labelled by the matched route pattern.
// It must wrap the ServeMux directly so the pattern is populated on r.
func instrument(rec *metrics.Recorder) Middleware {
	return func(next http.Handler) http.Handler {
		if rec == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(sr, r)
			rec.ObserveHTTP(routeLabel(r.Pattern), r.Method, sr.code(), time.Since(start))
		})
	}
}

func routeLabel(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}
	switch pattern {
	case "", "/":
		return "not_found"
	default:
		return pattern
	}
}
