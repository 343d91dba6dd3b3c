package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// OperatorHeader identifies the scanning device or gate operator.
const OperatorHeader = "X-Operator"

type RateLimiter struct {
	redis  redis.Cmdable
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient redis.Cmdable, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: redisClient, limit: int64(limit), window: window}
}

// Allow counts one request against key in the current window. A limit of
// zero or less disables limiting.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if count == 1 {
		r.redis.Expire(ctx, key, r.window)
	}
	return count <= r.limit, nil
}

// ScanRateLimit limits access checks per operator, or per client IP when
// the scanner sends no operator. Requests pass when Redis is unavailable.
func (r *RateLimiter) ScanRateLimit() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		id := strings.TrimSpace(e.Request.Header.Get(OperatorHeader))
		if id == "" {
			id = e.RealIP()
		}

		ok, err := r.Allow(e.Request.Context(), "ratelimit:scan:"+id)
		if err != nil {
			slog.Warn("Scan rate limit unavailable", "client", id, "error", err)
		}
		if !ok {
			return apis.NewTooManyRequestsError("Too many scans. Please try again later.", nil)
		}
		return e.Next()
	}
}

// AntiBotMiddleware rejects crawler user agents on public endpoints.
func (r *RateLimiter) AntiBotMiddleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
			return apis.NewForbiddenError("Access denied", nil)
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
