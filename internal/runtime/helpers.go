package runtime

import (
	"fmt"
	goruntime "runtime"
	"time"

	"github.com/l0p7/qrgen/internal/runtime/cache"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// memoryStats reads the heap figures reported by health endpoints.
func memoryStats() goruntime.MemStats {
	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)
	return ms
}

func memoryUsage() cache.MemoryUsage {
	ms := memoryStats()
	return cache.MemoryUsage{HeapUsed: ms.HeapAlloc, HeapTotal: ms.HeapSys}
}

func formatBytes(n uint64) string {
	return cache.FormatMegabytes(cache.Megabytes(int64(n)))
}

// humanUptime renders d as "1h 2m 3s".
func humanUptime(d time.Duration) string {
	secs := int64(d.Seconds())
	return fmt.Sprintf("%dh %dm %ds", secs/3600, secs%3600/60, secs%60)
}
