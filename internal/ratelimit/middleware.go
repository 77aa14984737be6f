package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// KeyFunc extracts the client key from a request.
type KeyFunc func(*http.Request) string

// Middleware enforces rule for every request passing through it. Limiter
// failures let the request through.
func Middleware(limiter Limiter, rule Rule, keyFunc KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("agent", "ratelimit"), slog.String("rule", rule.Name))
	windowSeconds := int(math.Ceil(rule.Window.Seconds()))
	policy := fmt.Sprintf("%d;w=%d", rule.Limit, windowSeconds)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			result, err := limiter.Allow(r.Context(), rule, key)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request", slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Set("RateLimit-Policy", policy)
			header.Set("RateLimit-Limit", strconv.Itoa(result.Limit))
			header.Set("RateLimit-Remaining", strconv.Itoa(result.Remaining))
			header.Set("RateLimit-Reset", strconv.Itoa(ceilSeconds(time.Until(result.ResetAt))))

			if !result.Allowed {
				header.Set("Retry-After", strconv.Itoa(max(ceilSeconds(result.RetryAfter), 1)))
				logger.Info("rate limit exceeded", slog.String("client", key))
				writeTooManyRequests(w, rule, windowSeconds)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeTooManyRequests(w http.ResponseWriter, rule Rule, windowSeconds int) {
	message := rule.Message
	if message == "" {
		message = fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", windowSeconds)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":      "Too many requests",
		"message":    message,
		"retryAfter": windowSeconds,
	})
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
