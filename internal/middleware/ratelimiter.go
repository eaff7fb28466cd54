package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter counts attempts per key within a fixed window.
type RateLimiter interface {
	// Allow records one attempt. When the limit is exceeded it returns false
	// and how long the caller should wait.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

type redisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisRateLimiter shares counters across replicas through Redis.
func NewRedisRateLimiter(client *redis.Client, limit int64, window time.Duration) RateLimiter {
	return &redisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// rateKey generates the Redis key for an attempt counter
// Format: rate:auth:{key}
func rateKey(key string) string {
	return fmt.Sprintf("rate:auth:%s", key)
}

func (r *redisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := rateKey(key)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, err
	}

	// The window starts with the first attempt and is not extended by later ones.
	wait := ttl.Val()
	if wait < 0 {
		if err := r.client.PExpire(ctx, k, r.window).Err(); err != nil {
			return true, 0, err
		}
		wait = r.window
	}

	if incr.Val() <= r.limit {
		return true, 0, nil
	}
	return false, wait, nil
}

type localRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*localBucket
	limit     int64
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalRateLimiter keeps a token bucket per key in process memory. The
// bucket holds limit tokens and refills over window. Buckets idle for a full
// window are dropped, since they would be full again anyway.
func NewLocalRateLimiter(limit int64, window time.Duration) RateLimiter {
	return newLocalRateLimiter(limit, window, time.Now)
}

func newLocalRateLimiter(limit int64, window time.Duration, now func() time.Time) *localRateLimiter {
	return &localRateLimiter{
		buckets:   make(map[string]*localBucket),
		limit:     limit,
		window:    window,
		lastSweep: now(),
		now:       now,
	}
}

func (l *localRateLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), int(l.limit))}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	if b.limiter.AllowN(now, 1) {
		return true, 0, nil
	}
	return false, l.window / time.Duration(l.limit), nil
}

// sweep must be called with mu held.
func (l *localRateLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.window {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func (l *localRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

type fallbackRateLimiter struct {
	primary  RateLimiter
	fallback RateLimiter
	logger   *slog.Logger
}

// NewRateLimiter uses Redis when a client is given and degrades to the
// in-process limiter whenever Redis errors.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration, logger *slog.Logger) RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	local := NewLocalRateLimiter(limit, window)
	if client == nil {
		logger.Warn("⚠️ [RateLimiter] Redis unavailable, using in-process limiter")
		return local
	}
	return &fallbackRateLimiter{
		primary:  NewRedisRateLimiter(client, limit, window),
		fallback: local,
		logger:   logger,
	}
}

func (f *fallbackRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	allowed, wait, err := f.primary.Allow(ctx, key)
	if err == nil {
		return allowed, wait, nil
	}
	f.logger.Warn("⚠️ [RateLimiter] Redis error, using in-process limiter", "error", err)
	return f.fallback.Allow(ctx, key)
}

// RateLimit limits attempts per client IP and route. Limiter errors let the
// request through.
func RateLimit(limiter RateLimiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + ":" + c.FullPath()

		allowed, wait, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Error("❌ [RateLimiter] Limiter failed", "error", err)
			c.Next()
			return
		}
		if !allowed {
			logger.Warn("⚠️ [RateLimiter] Too many attempts", "client_ip", c.ClientIP(), "path", c.FullPath())
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			AbortWithError(c, http.StatusTooManyRequests, "RateLimited", "too many attempts, retry later")
			return
		}
		c.Next()
	}
}
