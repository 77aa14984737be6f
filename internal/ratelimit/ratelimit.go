// Package ratelimit throttles clients per rule, either in process or through a
// shared valkey/redis counter.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Rule is a named quota: Limit requests per Window.
type Rule struct {
	Name    string
	Limit   int
	Window  time.Duration
	Message string
}

func (r Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("ratelimit: rule name required")
	}
	if r.Limit <= 0 {
		return fmt.Errorf("ratelimit: rule %q limit must be positive", r.Name)
	}
	if r.Window <= 0 {
		return fmt.Errorf("ratelimit: rule %q window must be positive", r.Name)
	}
	return nil
}

// Result describes one admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter decides whether key may spend one unit of rule's quota.
type Limiter interface {
	Allow(ctx context.Context, rule Rule, key string) (Result, error)
	Close() error
}

// ClientIP returns the address used as the limiter key. With trustProxy the
// right-most X-Forwarded-For entry (the one added by the nearest proxy) wins.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
