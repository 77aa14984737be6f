package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	CacheOperationLookup CacheOperation = "lookup"
	CacheOperationStore  CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	CacheLookupHit  CacheLookupOutcome = "hit"
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupBypass indicates the request skipped the cache entirely.
	CacheLookupBypass CacheLookupOutcome = "bypass"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	CacheStoreStored  CacheStoreOutcome = "stored"
	CacheStoreSkipped CacheStoreOutcome = "skipped"
)

// CacheSnapshot is the subset of cache statistics exported as gauges.
type CacheSnapshot struct {
	HitRate    float64
	Keys       int
	ValueBytes int64
}

// Recorder publishes Prometheus metrics for the HTTP surface, QR generation
// and the cache.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler
	started  time.Time

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	generation      *prometheus.HistogramVec

	mu    sync.RWMutex
	cache func() CacheSnapshot
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	r := &Recorder{started: time.Now()}

	r.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qr",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests served.",
	}, []string{"route", "method", "status_code"})

	r.httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qr",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed HTTP requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"route", "method"})

	r.cacheOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qr",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations executed by the generation pipeline.",
	}, []string{"operation", "result"})

	r.generation = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qr",
		Name:      "generation_duration_seconds",
		Help:      "Latency distribution for PNG encoding.",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"outcome"})

	hitRate := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "qr",
		Subsystem: "cache",
		Name:      "hit_rate",
		Help:      "Cache hits divided by lookups since start or the last clear.",
	}, func() float64 { return r.snapshot().HitRate })

	keys := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "qr",
		Subsystem: "cache",
		Name:      "keys_total",
		Help:      "Entries currently held by the cache.",
	}, func() float64 { return float64(r.snapshot().Keys) })

	valueBytes := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "qr",
		Subsystem: "cache",
		Name:      "value_bytes",
		Help:      "Approximate bytes held by cached values.",
	}, func() float64 { return float64(r.snapshot().ValueBytes) })

	heapUsed := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "qr",
		Subsystem: "memory",
		Name:      "heap_used_bytes",
		Help:      "Heap bytes in use.",
	}, func() float64 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return float64(ms.HeapAlloc)
	})

	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "qr",
		Name:      "uptime_seconds",
		Help:      "Seconds since the recorder was created.",
	}, func() float64 { return time.Since(r.started).Seconds() })

	reg.MustRegister(r.httpRequests, r.httpLatency, r.cacheOperations, r.generation,
		hitRate, keys, valueBytes, heapUsed, uptime)

	r.gatherer = reg
	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return r
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// BindCache installs the source read by the cache gauges at scrape time.
func (r *Recorder) BindCache(source func() CacheSnapshot) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.cache = source
	r.mu.Unlock()
}

func (r *Recorder) snapshot() CacheSnapshot {
	r.mu.RLock()
	source := r.cache
	r.mu.RUnlock()
	if source == nil {
		return CacheSnapshot{}
	}
	return source()
}

// ObserveHTTP records a completed request. route is the matched mux pattern.
func (r *Recorder) ObserveHTTP(route, method string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	routeLabel := normalizeLabel(route)
	methodLabel := normalizeLabel(method)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.httpRequests.WithLabelValues(routeLabel, methodLabel, statusLabel).Inc()
	r.httpLatency.WithLabelValues(routeLabel, methodLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(result CacheLookupOutcome) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationLookup), resultLabel).Inc()
}

// ObserveCacheStore records the result of a cache store attempt.
func (r *Recorder) ObserveCacheStore(result CacheStoreOutcome) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreSkipped)
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationStore), resultLabel).Inc()
}

// ObserveGeneration records how long encoding a PNG took.
func (r *Recorder) ObserveGeneration(outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.generation.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
