package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"routecodex-go/internal/apperrors"
	"routecodex-go/internal/httpformat"
	"routecodex-go/internal/monitoring"
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ttlLimiterCache is a TTL map of per-key limiters with opportunistic
// sweeping, so one-off callers do not pin memory forever.
type ttlLimiterCache struct {
	mu        sync.Mutex
	items     map[string]*limiterEntry
	ttl       time.Duration
	lastSweep time.Time
}

func newTTLLimiterCache(ttl time.Duration) *ttlLimiterCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ttlLimiterCache{items: make(map[string]*limiterEntry), ttl: ttl}
}

func (c *ttlLimiterCache) get(key string, makeFn func() *rate.Limiter) *rate.Limiter {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		e.lastSeen = now
		return e.lim
	}
	lim := makeFn()
	c.items[key] = &limiterEntry{lim: lim, lastSeen: now}
	monitoring.RateLimitKeysGauge.Set(float64(len(c.items)))
	// 每 ~2 分钟顺带清一次过期键
	if c.lastSweep.IsZero() || now.Sub(c.lastSweep) > 2*time.Minute {
		c.sweepLocked(now)
		c.lastSweep = now
	}
	return lim
}

func (c *ttlLimiterCache) sweepLocked(now time.Time) {
	for k, e := range c.items {
		if now.Sub(e.lastSeen) > c.ttl {
			delete(c.items, k)
		}
	}
	monitoring.RateLimitKeysGauge.Set(float64(len(c.items)))
	monitoring.RateLimitSweepsTotal.Inc()
}

// RateLimiter buckets callers by API key when auth ran before it, else by
// client IP. A coarse global limiter (5x the per-key budget) sits in front
// so a key-rotating client cannot multiply its quota.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	cache := newTTLLimiterCache(15 * time.Minute)
	global := rate.NewLimiter(rate.Limit(rps*5), burst*5)

	return func(c *gin.Context) {
		if !global.Allow() {
			respondRateLimited(c, "global")
			return
		}
		key := limiterKey(c)
		lim := cache.get(key, func() *rate.Limiter {
			return rate.NewLimiter(rate.Limit(rps), burst)
		})
		if !lim.Allow() {
			respondRateLimited(c, "key")
			return
		}
		c.Next()
	}
}

func limiterKey(c *gin.Context) string {
	if v, ok := c.Get("api_key"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if key := ExtractClientKey(c); key != "" {
		return key
	}
	return c.ClientIP()
}

func respondRateLimited(c *gin.Context, scope string) {
	monitoring.RateLimitHitsTotal.WithLabelValues(scope).Inc()
	appErr := apperrors.NewRateLimitError("rate limit exceeded, slow down")
	body, err := appErr.ToJSON(httpformat.DetectFromContext(c))
	if err != nil {
		c.AbortWithStatus(appErr.HTTPStatus)
		return
	}
	c.Header("Content-Type", "application/json")
	c.Status(appErr.HTTPStatus)
	_, _ = c.Writer.Write(body)
	c.Abort()
}
