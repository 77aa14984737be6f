package cache

import (
	"fmt"
	"math"
)

// Stats is a point-in-time copy of the store counters plus derived figures.
type Stats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Sets        uint64  `json:"sets"`
	Deletes     uint64  `json:"deletes"`
	Errors      uint64  `json:"errors"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Swept       uint64  `json:"swept"`
	HitRate     float64 `json:"hitRate"`
	Keys        int     `json:"keys"`
	KeyBytes    int64   `json:"keyBytes"`
	ValueBytes  int64   `json:"valueBytes"`
}

// Stats snapshots the counters and walks the live entries to size them.
// Expired entries awaiting the purge job are left out.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{
		Hits:        s.stats.hits,
		Misses:      s.stats.misses,
		Sets:        s.stats.sets,
		Deletes:     s.stats.deletes,
		Errors:      s.stats.errors,
		Evictions:   s.stats.evictions,
		Expirations: s.stats.expirations,
		Swept:       s.stats.swept,
		HitRate:     hitRate(s.stats.hits, s.stats.misses),
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.fault("stats", "", r)
			}
		}()
		now := s.now()
		for _, key := range s.lru.Keys() {
			rec, ok := s.lru.Peek(key)
			if !ok || rec == nil || !now.Before(rec.expiresAt) {
				continue
			}
			out.Keys++
			out.KeyBytes += int64(len(key))
			out.ValueBytes += int64(len(rec.image))
		}
	}()
	return out
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// MemoryUsage carries process memory figures supplied by the runtime.
type MemoryUsage struct {
	HeapUsed  uint64
	HeapTotal uint64
}

// Health is the cache health document.
type Health struct {
	Status string       `json:"status"`
	Cache  CacheHealth  `json:"cache"`
	System SystemHealth `json:"system"`
}

type CacheHealth struct {
	HitRate          string  `json:"hitRate"`
	HitRatePercent   int     `json:"hitRatePercent"`
	TotalKeys        int     `json:"totalKeys"`
	MemoryUsage      string  `json:"memoryUsage"`
	MemoryEstimateMB float64 `json:"memoryEstimateMB"`
}

type SystemHealth struct {
	HeapUsed  string `json:"heapUsed"`
	HeapTotal string `json:"heapTotal"`
}

// Health projects Stats into the human readable health document. The store
// has no unhealthy state: faults show up as a falling hit rate.
func (s *Store) Health(mem MemoryUsage) Health {
	stats := s.Stats()
	percent := Percent(stats.HitRate)
	mb := Megabytes(stats.ValueBytes)
	return Health{
		Status: "healthy",
		Cache: CacheHealth{
			HitRate:          fmt.Sprintf("%d%%", percent),
			HitRatePercent:   percent,
			TotalKeys:        stats.Keys,
			MemoryUsage:      FormatMegabytes(mb),
			MemoryEstimateMB: mb,
		},
		System: SystemHealth{
			HeapUsed:  FormatMegabytes(Megabytes(int64(mem.HeapUsed))),
			HeapTotal: FormatMegabytes(Megabytes(int64(mem.HeapTotal))),
		},
	}
}

// Percent converts a 0..1 ratio into a rounded whole percentage.
func Percent(ratio float64) int {
	return int(math.Round(ratio * 100))
}

// Megabytes converts bytes to MiB rounded to two decimals.
func Megabytes(bytes int64) float64 {
	return math.Round(float64(bytes)/1024/1024*100) / 100
}

// FormatMegabytes renders a MiB figure as "1.5 MB".
func FormatMegabytes(mb float64) string {
	return fmt.Sprintf("%g MB", mb)
}
