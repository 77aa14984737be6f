package runtime

import (
	"fmt"
	"log/slog"
	"net/http"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/l0p7/qrgen/internal/runtime/cache"
)

// ServeHealth reports service status, uptime, memory and cache health.
func (p *Pipeline) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	now := p.now()
	uptime := now.Sub(p.started)
	ms := memoryStats()
	cacheHealth := p.store.Health(cache.MemoryUsage{HeapUsed: ms.HeapAlloc, HeapTotal: ms.HeapSys})

	p.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   now.UTC().Format(timestampLayout),
		"version":     p.version,
		"environment": p.environment,
		"uptime": map[string]any{
			"seconds": int64(uptime.Seconds()),
			"human":   humanUptime(uptime),
		},
		"memory": map[string]any{
			"heapUsed":  formatBytes(ms.HeapAlloc),
			"heapTotal": formatBytes(ms.HeapSys),
			"sys":       formatBytes(ms.Sys),
		},
		"performance": map[string]any{
			"responseTime": fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
		},
		"cache": cacheHealth.Cache,
		"dependencies": map[string]any{
			"qrcode": "operational",
			"cache":  cacheState(p.cacheOn),
			"go":     goruntime.Version(),
		},
	})
}

func cacheState(enabled bool) string {
	if enabled {
		return "operational"
	}
	return "disabled"
}

// ServeCacheStats exposes the raw cache counters.
func (p *Pipeline) ServeCacheStats(w http.ResponseWriter, _ *http.Request) {
	stats := p.store.Stats()
	averageKeySize := 0
	if stats.Keys > 0 {
		averageKeySize = int((stats.KeyBytes + int64(stats.Keys)/2) / int64(stats.Keys))
	}
	p.writeJSON(w, http.StatusOK, map[string]any{
		"cache_performance": map[string]any{
			"hit_rate":     fmt.Sprintf("%d%%", cache.Percent(stats.HitRate)),
			"total_hits":   stats.Hits,
			"total_misses": stats.Misses,
			"total_keys":   stats.Keys,
		},
		"memory_usage": map[string]any{
			"cache_size_mb":    cache.Megabytes(stats.ValueBytes),
			"key_count":        stats.Keys,
			"average_key_size": averageKeySize,
		},
		"operations": map[string]any{
			"sets":        stats.Sets,
			"deletes":     stats.Deletes,
			"errors":      stats.Errors,
			"evictions":   stats.Evictions,
			"expirations": stats.Expirations,
			"swept":       stats.Swept,
		},
	})
}

// ServeCacheHealth returns the cache health document.
func (p *Pipeline) ServeCacheHealth(w http.ResponseWriter, _ *http.Request) {
	p.writeJSON(w, http.StatusOK, p.store.Health(memoryUsage()))
}

// ServeCacheClear drops every cached image.
func (p *Pipeline) ServeCacheClear(w http.ResponseWriter, _ *http.Request) {
	p.store.Clear()
	p.logger.Info("cache cleared")
	p.writeJSON(w, http.StatusOK, map[string]any{"message": "Cache cleared successfully"})
}

// ServeCacheDelete removes one entry addressed by the {key} path value.
func (p *Pipeline) ServeCacheDelete(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.PathValue("key"))
	if key == "" {
		p.WriteError(w, http.StatusBadRequest, "Cache key is required", nil)
		return
	}
	if !p.store.Delete(key) {
		p.WriteError(w, http.StatusNotFound, "Cache entry not found", map[string]any{"key": key})
		return
	}
	p.logger.Info("cache entry deleted", slog.String("key", key))
	p.writeJSON(w, http.StatusOK, map[string]any{"message": "Cache entry deleted", "key": key})
}
