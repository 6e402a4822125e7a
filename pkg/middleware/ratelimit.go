package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/config"
	"github.com/appmantle/appmantle/pkg/httputil"
	"github.com/appmantle/appmantle/pkg/observability"
)

// Limiter answers whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// TokenBucketLimiter is the in-process limiter used when no Redis is
// configured. One bucket per key, refilled continuously.
type TokenBucketLimiter struct {
	rps   float64
	burst float64

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewTokenBucketLimiter creates an in-process limiter.
func NewTokenBucketLimiter(rps float64, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		rps:     rps,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token from the key's bucket.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastUpdate: now}
		l.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastUpdate).Seconds() * l.rps
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastUpdate = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// StartCleanup drops idle buckets periodically until ctx is cancelled.
func (l *TokenBucketLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.mu.Lock()
				for key, b := range l.buckets {
					if now.Sub(b.lastUpdate) > 2*interval {
						delete(l.buckets, key)
					}
				}
				l.mu.Unlock()
			}
		}
	}()
}

// RedisLimiter shares a fixed window counter across instances. Redis
// failures fail open; losing rate limiting briefly beats refusing logins.
type RedisLimiter struct {
	redis  *redis.Client
	window time.Duration
	limit  int64
	logger *observability.Logger
}

// NewRedisLimiter creates a Redis-backed limiter. The per-second rate is
// expressed as a one-second fixed window.
func NewRedisLimiter(client *redis.Client, rps float64, burst int, logger *observability.Logger) *RedisLimiter {
	return &RedisLimiter{
		redis:  client,
		window: time.Second,
		limit:  int64(rps) + int64(burst),
		logger: logger,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.WithError(err).Warn("rate limit check failed, allowing request")
		return true
	}
	return incr.Val() <= l.limit
}

// RateLimit limits requests per client IP on the wrapped routes. Used on
// the credential endpoints (login, signup, session creation) to slow
// brute forcing.
func RateLimit(cfg config.RateLimitConfig, limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.Allow(r.Context(), "ip:"+clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				httputil.WriteErrors(w, apierr.New(apierr.TooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
