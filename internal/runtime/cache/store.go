package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/robfig/cron/v3"
)

const defaultMaxKeys = 1000

// EntryMetadata is the bookkeeping kept next to every cached image.
type EntryMetadata struct {
	CreatedAt            time.Time `json:"createdAt"`
	LastAccessedAt       time.Time `json:"lastAccessedAt"`
	AccessCount          int       `json:"accessCount"`
	SizeBytes            int       `json:"sizeBytes"`
	RequestSize          string    `json:"requestSize"`
	ErrorCorrectionLevel string    `json:"errorCorrectionLevel"`
	ColorsCustomized     bool      `json:"colorsCustomized"`
}

// Entry is a copy of a cached image handed to callers. Mutating it never
// affects the store.
type Entry struct {
	Image     []byte        `json:"-"`
	Metadata  EntryMetadata `json:"metadata"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

type record struct {
	image     []byte
	meta      EntryMetadata
	expiresAt time.Time
}

type counters struct {
	hits        uint64
	misses      uint64
	sets        uint64
	deletes     uint64
	errors      uint64
	evictions   uint64
	expirations uint64
	swept       uint64
}

// Options configures a Store.
type Options struct {
	// MaxKeys bounds the number of entries. Inserting past the bound evicts the
	// least recently used entry.
	MaxKeys int
	TTL     TTLPolicy
	Sweep   SweepPolicy
	Logger  *slog.Logger
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Store is the bounded in-memory image cache. A single mutex serializes access
// to the LRU list and the counters. Store never returns errors to callers:
// internal faults are counted and degrade to a miss or a no-op.
type Store struct {
	ttl    TTLPolicy
	sweep  SweepPolicy
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	lru   simplelru.LRUCache[string, *record]
	stats counters

	lifecycle sync.Mutex
	scheduler *cron.Cron
}

// New builds a Store. Zero-valued options fall back to the defaults.
func New(opts Options) (*Store, error) {
	maxKeys := opts.MaxKeys
	if maxKeys == 0 {
		maxKeys = defaultMaxKeys
	}
	if maxKeys < 0 {
		return nil, fmt.Errorf("cache: maxKeys invalid: %d", maxKeys)
	}
	lru, err := simplelru.NewLRU[string, *record](maxKeys, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: build lru: %w", err)
	}
	ttl := opts.TTL
	if ttl == (TTLPolicy{}) {
		ttl = DefaultTTLPolicy()
	}
	sweep := opts.Sweep
	if sweep == (SweepPolicy{}) {
		sweep = DefaultSweepPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Store{
		ttl:    ttl,
		sweep:  sweep,
		logger: logger.With(slog.String("agent", "cache")),
		now:    now,
		lru:    lru,
	}, nil
}

// TTLPolicy exposes the policy used by Set.
func (s *Store) TTLPolicy() TTLPolicy { return s.ttl }

// Get returns a copy of the entry stored under key. A hit bumps the access
// bookkeeping; an expired entry is dropped and reported as a miss.
func (s *Store) Get(key string) (Entry, bool) {
	return s.GetIf(key, nil)
}

// GetIf behaves like Get but lets accept reject a live entry. A rejected entry
// stays in the store, is counted as a miss and keeps its bookkeeping.
func (s *Store) GetIf(key string, accept func(EntryMetadata) bool) (entry Entry, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.fault("get", key, r)
			entry, ok = Entry{}, false
		}
	}()

	rec, found := s.lru.Peek(key)
	if !found || rec == nil {
		s.stats.misses++
		return Entry{}, false
	}
	now := s.now()
	if !now.Before(rec.expiresAt) {
		s.lru.Remove(key)
		s.stats.expirations++
		s.stats.misses++
		return Entry{}, false
	}
	if accept != nil && !accept(rec.meta) {
		s.stats.misses++
		return Entry{}, false
	}
	s.lru.Get(key)
	s.stats.hits++
	rec.meta.LastAccessedAt = now
	rec.meta.AccessCount++
	return rec.snapshot(), true
}

// Peek returns a copy of the entry without touching recency, bookkeeping or
// counters.
func (s *Store) Peek(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.lru.Peek(key)
	if !ok || rec == nil || !s.now().Before(rec.expiresAt) {
		return Entry{}, false
	}
	return rec.snapshot(), true
}

// Set stores image under key with an expiry derived from meta. The store
// takes ownership of image. It reports false when the entry could not be stored.
func (s *Store) Set(key string, image []byte, meta Metadata) (stored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.fault("set", key, r)
			stored = false
		}
	}()

	if key == "" {
		s.stats.errors++
		s.logger.Warn("cache set rejected", slog.Any("error", errors.New("empty key")))
		return false
	}

	now := s.now()
	ttl := s.ttl.Compute(meta)
	rec := &record{
		image: image,
		meta: EntryMetadata{
			CreatedAt:            now,
			LastAccessedAt:       now,
			AccessCount:          0,
			SizeBytes:            len(image),
			RequestSize:          orDefault(meta.Size, DefaultSize),
			ErrorCorrectionLevel: orDefault(meta.ErrorCorrectionLevel, DefaultLevel),
			ColorsCustomized:     meta.ColorsCustomized(),
		},
		expiresAt: now.Add(ttl),
	}
	if evicted := s.lru.Add(key, rec); evicted {
		s.stats.evictions++
	}
	s.stats.sets++
	return true
}

// Delete removes key and reports whether an entry was present.
func (s *Store) Delete(key string) (removed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.fault("delete", key, r)
			removed = false
		}
	}()

	if s.lru.Remove(key) {
		s.stats.deletes++
		return true
	}
	return false
}

// Clear drops every entry. Counters are left untouched.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.fault("clear", "", r)
		}
	}()
	s.lru.Purge()
}

// Len reports the number of stored entries, including expired ones the
// sweeper has not reclaimed yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// fault must be called with s.mu held.
func (s *Store) fault(op, key string, cause any) {
	s.stats.errors++
	s.logger.Error("cache operation failed",
		slog.String("operation", op),
		slog.String("key", key),
		slog.Any("error", cause),
	)
}

func (r *record) snapshot() Entry {
	image := make([]byte, len(r.image))
	copy(image, r.image)
	return Entry{Image: image, Metadata: r.meta, ExpiresAt: r.expiresAt}
}
