package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepPolicy drives the background maintenance jobs.
type SweepPolicy struct {
	// Interval between staleness passes.
	Interval time.Duration
	// ExpiryInterval between passes that reclaim entries whose TTL elapsed.
	ExpiryInterval time.Duration
	// MaxAge evicts an entry regardless of its TTL once it is this old.
	MaxAge time.Duration
	// IdleAfter together with MinAccessCount reclaims cold entries early.
	IdleAfter      time.Duration
	MinAccessCount int
}

// DefaultSweepPolicy runs the staleness pass every 5 minutes and the expiry
// pass every minute; entries older than 1 hour, or idle for 30 minutes with
// fewer than 2 reads, are evicted.
func DefaultSweepPolicy() SweepPolicy {
	return SweepPolicy{
		Interval:       5 * time.Minute,
		ExpiryInterval: time.Minute,
		MaxAge:         time.Hour,
		IdleAfter:      30 * time.Minute,
		MinAccessCount: 2,
	}
}

// Maintain runs one staleness pass and returns the number of evicted entries.
// Expired entries found on the way are reclaimed as well.
func (s *Store) Maintain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	defer func() {
		if r := recover(); r != nil {
			s.fault("maintain", "", r)
		}
	}()

	now := s.now()
	for _, key := range s.lru.Keys() {
		rec, ok := s.lru.Peek(key)
		if !ok || rec == nil {
			continue
		}
		if !now.Before(rec.expiresAt) {
			s.lru.Remove(key)
			s.stats.expirations++
			removed++
			continue
		}
		if s.stale(rec, now) {
			s.lru.Remove(key)
			s.stats.swept++
			removed++
		}
	}
	return removed
}

// PurgeExpired drops every entry whose TTL elapsed and returns how many were removed.
func (s *Store) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	defer func() {
		if r := recover(); r != nil {
			s.fault("purge", "", r)
		}
	}()

	now := s.now()
	for _, key := range s.lru.Keys() {
		rec, ok := s.lru.Peek(key)
		if ok && rec != nil && !now.Before(rec.expiresAt) {
			s.lru.Remove(key)
			s.stats.expirations++
			removed++
		}
	}
	return removed
}

func (s *Store) stale(rec *record, now time.Time) bool {
	if s.sweep.MaxAge > 0 && now.Sub(rec.meta.CreatedAt) > s.sweep.MaxAge {
		return true
	}
	if s.sweep.IdleAfter > 0 && now.Sub(rec.meta.LastAccessedAt) > s.sweep.IdleAfter {
		return rec.meta.AccessCount < s.sweep.MinAccessCount
	}
	return false
}

// Start schedules the maintenance and expiry jobs. Calling Start twice is an error.
func (s *Store) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.scheduler != nil {
		return errors.New("cache: sweeper already running")
	}

	scheduler := cron.New(cron.WithChain(cron.Recover(cronLogger{logger: s.logger})))
	if s.sweep.Interval > 0 {
		if _, err := scheduler.AddFunc(every(s.sweep.Interval), func() {
			if n := s.Maintain(); n > 0 {
				s.logger.Debug("cache maintenance pass", slog.Int("removed", n))
			}
		}); err != nil {
			return fmt.Errorf("cache: schedule maintenance: %w", err)
		}
	}
	if s.sweep.ExpiryInterval > 0 {
		if _, err := scheduler.AddFunc(every(s.sweep.ExpiryInterval), func() {
			if n := s.PurgeExpired(); n > 0 {
				s.logger.Debug("cache expiry pass", slog.Int("removed", n))
			}
		}); err != nil {
			return fmt.Errorf("cache: schedule expiry: %w", err)
		}
	}
	scheduler.Start()
	s.scheduler = scheduler
	s.logger.Info("cache sweeper started",
		slog.Duration("interval", s.sweep.Interval),
		slog.Duration("expiry_interval", s.sweep.ExpiryInterval),
	)
	return nil
}

// Close stops the scheduled jobs and waits for a running pass to finish or
// for ctx to expire.
func (s *Store) Close(ctx context.Context) error {
	s.lifecycle.Lock()
	scheduler := s.scheduler
	s.scheduler = nil
	s.lifecycle.Unlock()
	if scheduler == nil {
		return nil
	}

	done := scheduler.Stop()
	select {
	case <-done.Done():
		s.logger.Info("cache sweeper stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cache: stop sweeper: %w", ctx.Err())
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger routes robfig/cron diagnostics through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
