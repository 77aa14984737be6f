package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const defaultMemoryClients = 10000

// Memory is an in-process token bucket limiter. Each rule keeps its own table
// of per-client buckets; a bucket is forgotten one window after it was created,
// which refills it for the client's next request.
type Memory struct {
	maxClients int
	now        func() time.Time

	mu     sync.Mutex
	tables map[string]*expirable.LRU[string, *rate.Limiter]
}

// NewMemory builds a Memory limiter tracking at most maxClients clients per
// rule. Zero selects the default of 10000.
func NewMemory(maxClients int) *Memory {
	if maxClients <= 0 {
		maxClients = defaultMemoryClients
	}
	return &Memory{
		maxClients: maxClients,
		now:        time.Now,
		tables:     make(map[string]*expirable.LRU[string, *rate.Limiter]),
	}
}

func (m *Memory) Allow(_ context.Context, rule Rule, key string) (Result, error) {
	if err := rule.validate(); err != nil {
		return Result{}, err
	}
	limiter := m.bucket(rule, key)
	now := m.now()
	interval := rule.Window / time.Duration(rule.Limit)

	reservation := limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); !reservation.OK() || delay > 0 {
		reservation.CancelAt(now)
		return Result{
			Allowed:    false,
			Limit:      rule.Limit,
			Remaining:  0,
			ResetAt:    now.Add(delay),
			RetryAfter: delay,
		}, nil
	}

	tokens := limiter.TokensAt(now)
	missing := float64(rule.Limit) - tokens
	return Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: max(int(math.Floor(tokens)), 0),
		ResetAt:   now.Add(time.Duration(missing * float64(interval))),
	}, nil
}

func (m *Memory) bucket(rule Rule, key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.tables[rule.Name]
	if !ok {
		table = expirable.NewLRU[string, *rate.Limiter](m.maxClients, nil, rule.Window)
		m.tables[rule.Name] = table
	}
	if limiter, ok := table.Get(key); ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Every(rule.Window/time.Duration(rule.Limit)), rule.Limit)
	table.Add(key, limiter)
	return limiter
}

// Close drops every bucket.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, table := range m.tables {
		table.Purge()
		delete(m.tables, name)
	}
	return nil
}
