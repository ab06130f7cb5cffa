package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func limitedRouter(rps, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimiter(rps, burst))
	router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })
	router.POST("/v1/messages", func(c *gin.Context) { c.String(200, "OK") })
	return router
}

func TestRateLimiterAllowsWithinBudget(t *testing.T) {
	router := limitedRouter(10, 10)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	if w.Code != 200 {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRateLimiterBlocksBeyondBurst(t *testing.T) {
	router := limitedRouter(1, 1)

	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, httptest.NewRequest("GET", "/test", nil))
	if w1.Code != 200 {
		t.Fatalf("first request: expected 200, got %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, httptest.NewRequest("GET", "/test", nil))
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w2.Code)
	}
	if !strings.Contains(w2.Body.String(), "rate_limit_error") {
		t.Errorf("expected openai error envelope, got %s", w2.Body.String())
	}
}

func TestRateLimiterBucketsByAPIKey(t *testing.T) {
	router := limitedRouter(1, 1)

	send := func(key string) int {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("x-api-key", key)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("sk-one"); code != 200 {
		t.Fatalf("key one: expected 200, got %d", code)
	}
	// a different key has its own bucket
	if code := send("sk-two"); code != 200 {
		t.Fatalf("key two: expected 200, got %d", code)
	}
	if code := send("sk-one"); code != http.StatusTooManyRequests {
		t.Fatalf("key one again: expected 429, got %d", code)
	}
}

func TestRateLimiterAnthropicEnvelope(t *testing.T) {
	router := limitedRouter(1, 1)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest("POST", "/v1/messages", nil))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest("POST", "/v1/messages", nil))

	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if !strings.Contains(second.Body.String(), `"type":"error"`) {
		t.Errorf("expected anthropic envelope on /v1/messages, got %s", second.Body.String())
	}
}

func TestTTLLimiterCacheSweep(t *testing.T) {
	cache := newTTLLimiterCache(time.Millisecond)
	cache.get("a", func() *rate.Limiter { return rate.NewLimiter(1, 1) })
	cache.get("b", func() *rate.Limiter { return rate.NewLimiter(1, 1) })

	time.Sleep(5 * time.Millisecond)
	cache.mu.Lock()
	cache.sweepLocked(time.Now())
	n := len(cache.items)
	cache.mu.Unlock()

	if n != 0 {
		t.Errorf("expected all limiters swept, %d left", n)
	}
}
