package cache

import (
	"strconv"
	"strings"
	"time"
)

// CacheControlDirective represents the Cache-Control directives a client sent
// with a generation request.
type CacheControlDirective struct {
	MaxAge  *int // max-age directive value in seconds
	NoCache bool // no-cache: regenerate but refresh the cache
	NoStore bool // no-store: neither read nor write the cache
}

// ParseCacheControl parses a request Cache-Control header.
//
// Format: Cache-Control: directive1, directive2=value, directive3
//
// Supported directives:
//   - max-age=<seconds>
//   - no-cache
//   - no-store
//
// Unknown directives are silently ignored.
func ParseCacheControl(header string) CacheControlDirective {
	directive := CacheControlDirective{}

	if header == "" {
		return directive
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if key, value, ok := strings.Cut(part, "="); ok {
			key = strings.TrimSpace(strings.ToLower(key))
			value = strings.Trim(strings.TrimSpace(value), `"`)
			if key == "max-age" {
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					directive.MaxAge = &seconds
				}
			}
			continue
		}

		switch strings.ToLower(part) {
		case "no-cache":
			directive.NoCache = true
		case "no-store":
			directive.NoStore = true
		}
	}

	return directive
}

// AllowsLookup reports whether a cached image may be served at all.
func (d CacheControlDirective) AllowsLookup() bool {
	return !d.NoStore && !d.NoCache
}

// AllowsStore reports whether a freshly generated image may be cached.
func (d CacheControlDirective) AllowsStore() bool {
	return !d.NoStore
}

// Acceptable reports whether an entry created at createdAt is fresh enough for
// the client. Without max-age every live entry is acceptable.
func (d CacheControlDirective) Acceptable(createdAt, now time.Time) bool {
	if d.MaxAge == nil {
		return true
	}
	return now.Sub(createdAt) <= time.Duration(*d.MaxAge)*time.Second
}
