package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether another request under key fits the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter shared by every server instance.
type RedisLimiter struct {
	rdb    *redis.Client
	max    int64
	window time.Duration
	prefix string
}

// NewRedisLimiter allows max requests per key per window.
func NewRedisLimiter(rdb *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, max: int64(max), window: window, prefix: "activity:ratelimit:"}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key
	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("incrementing rate counter: %w", err)
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("setting rate window: %w", err)
		}
	}
	return n <= l.max, nil
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// MemoryLimiter is the single-instance fallback used without Redis.
type MemoryLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string]*rateLimitEntry
	now     func() time.Time
}

// NewMemoryLimiter allows max requests per key per window.
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:     max,
		window:  window,
		entries: make(map[string]*rateLimitEntry),
		now:     time.Now,
	}
}

// Allow implements Limiter. Expired entries are dropped as they are seen.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, e := range l.entries {
		if now.Sub(e.windowStart) > l.window*2 {
			delete(l.entries, k)
		}
	}

	entry, ok := l.entries[key]
	if !ok || now.Sub(entry.windowStart) > l.window {
		l.entries[key] = &rateLimitEntry{count: 1, windowStart: now}
		return true, nil
	}
	entry.count++
	return entry.count <= l.max, nil
}

// RateLimit returns middleware that rejects requests over the limiter's
// budget with 429. Requests are keyed by client IP. A limiter error lets the
// request through.
func RateLimit(l Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, err := l.Allow(c.Request().Context(), c.RealIP())
			if err != nil {
				slog.Warn("rate limiter unavailable",
					slog.Any("error", err),
					slog.String("request_id", RequestID(c)),
				)
				return next(c)
			}
			if !ok {
				return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			}
			return next(c)
		}
	}
}
