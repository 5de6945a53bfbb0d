package security

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

const rateWindow = time.Minute

type RateLimiter struct {
	redis redis.UniversalClient
	limit int64
	// clientKey identifies the caller. It defaults to the proxy-aware client IP.
	clientKey func(e *core.RequestEvent) string
}

// NewRateLimiter limits each client to perMinute write requests. A nil
// client or a non-positive limit leaves only the user agent check active.
func NewRateLimiter(redisClient redis.UniversalClient, perMinute int) *RateLimiter {
	return &RateLimiter{
		redis:     redisClient,
		limit:     int64(perMinute),
		clientKey: func(e *core.RequestEvent) string { return e.RealIP() },
	}
}

// Middleware rejects suspicious user agents and callers over their budget.
// Redis failures let the request through.
func (r *RateLimiter) Middleware(e *core.RequestEvent) error {
	if isSuspiciousUserAgent(e.Request.UserAgent()) {
		return e.JSON(http.StatusForbidden, map[string]string{
			"error": "Access denied",
		})
	}

	if r.redis == nil || r.limit <= 0 {
		return e.Next()
	}

	ctx := e.Request.Context()
	key := fmt.Sprintf("ratelimit:%s", r.clientKey(e))

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("Rate limiter unavailable", "error", err)
		return e.Next()
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, rateWindow).Err(); err != nil {
			slog.Warn("Failed to set rate limit window", "key", key, "error", err)
		}
	}
	if count > r.limit {
		e.Response.Header().Set("Retry-After", "60")
		return e.JSON(http.StatusTooManyRequests, map[string]string{
			"error": "Rate limit exceeded. Please try again later.",
		})
	}

	return e.Next()
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
