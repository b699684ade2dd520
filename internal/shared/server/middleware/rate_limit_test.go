package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newAnalysisRouter(t *testing.T, limiter *RateLimiter, rules map[string]RateLimitRule) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(RateLimitConfig{
		Limiter: limiter,
		Rules:   rules,
		GroupFor: func(c *gin.Context) string {
			switch {
			case c.Request.Method == http.MethodPost:
				return "CREATE"
			case c.Request.Method == http.MethodGet && c.FullPath() == "/api/v1/analyses/:id":
				return "POLLING"
			default:
				return ""
			}
		},
	}))
	r.POST("/api/v1/analyses", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/api/v1/analyses/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/api/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func hit(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRateLimitCreateStricterThanPolling(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	r := newAnalysisRouter(t, limiter, map[string]RateLimitRule{
		"CREATE":  {Rate: 1, Burst: 2},
		"POLLING": {Rate: 5, Burst: 10},
	})

	for i := 0; i < 5; i++ {
		if resp := hit(r, http.MethodGet, "/api/v1/analyses/analysis-1"); resp.Code != http.StatusOK {
			t.Fatalf("poll %d expected 200, got %d", i+1, resp.Code)
		}
	}

	if resp := hit(r, http.MethodPost, "/api/v1/analyses"); resp.Code != http.StatusOK {
		t.Fatalf("create 1 expected 200, got %d", resp.Code)
	}
	if resp := hit(r, http.MethodPost, "/api/v1/analyses"); resp.Code != http.StatusOK {
		t.Fatalf("create 2 expected 200, got %d", resp.Code)
	}
	if resp := hit(r, http.MethodPost, "/api/v1/analyses"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("create 3 expected 429, got %d", resp.Code)
	}

	// Exhausting the CREATE bucket must not touch the POLLING bucket.
	if resp := hit(r, http.MethodGet, "/api/v1/analyses/analysis-1"); resp.Code != http.StatusOK {
		t.Fatalf("poll after create exhaustion expected 200, got %d", resp.Code)
	}
}

func TestRateLimitRefillsOverTime(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	r := newAnalysisRouter(t, limiter, map[string]RateLimitRule{
		"CREATE": {Rate: 1, Burst: 1},
	})

	if resp := hit(r, http.MethodPost, "/api/v1/analyses"); resp.Code != http.StatusOK {
		t.Fatalf("expected first create 200, got %d", resp.Code)
	}
	if resp := hit(r, http.MethodPost, "/api/v1/analyses"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second create 429, got %d", resp.Code)
	}

	now = now.Add(1100 * time.Millisecond)
	if resp := hit(r, http.MethodPost, "/api/v1/analyses"); resp.Code != http.StatusOK {
		t.Fatalf("expected create after refill 200, got %d", resp.Code)
	}
}

func TestRateLimitUnmatchedGroupPassesThrough(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	r := newAnalysisRouter(t, limiter, map[string]RateLimitRule{
		"CREATE": {Rate: 1, Burst: 1},
	})

	for i := 0; i < 20; i++ {
		if resp := hit(r, http.MethodGet, "/api/v1/health"); resp.Code != http.StatusOK {
			t.Fatalf("health %d expected 200, got %d", i+1, resp.Code)
		}
	}
}

func TestRateLimit429IncludesRetryAfter(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	r := newAnalysisRouter(t, limiter, map[string]RateLimitRule{
		"CREATE": {Rate: 0.5, Burst: 1},
	})

	if resp := hit(r, http.MethodPost, "/api/v1/analyses"); resp.Code != http.StatusOK {
		t.Fatalf("expected first create 200, got %d", resp.Code)
	}
	resp := hit(r, http.MethodPost, "/api/v1/analyses")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] != "rate_limited" {
		t.Fatalf("expected error=rate_limited, got %v", payload["error"])
	}
	ms, ok := payload["retryAfterMs"].(float64)
	if !ok || ms <= 0 {
		t.Fatalf("expected positive retryAfterMs, got %v", payload["retryAfterMs"])
	}
}

func TestRateLimiterSweepDropsRefilledBuckets(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	rule := RateLimitRule{Rate: 1, Burst: 1}

	for i := 0; i < rateLimitSweepSize; i++ {
		limiter.Allow(fmt.Sprintf("10.0.%d.%d|CREATE", i/256, i%256), rule)
	}

	// After a full refill interval every bucket is back at capacity and
	// the next insert sweeps them all.
	now = now.Add(2 * time.Second)
	if allowed, _ := limiter.Allow("10.1.0.1|CREATE", rule); !allowed {
		t.Fatalf("expected fresh client to be allowed")
	}

	limiter.mu.Lock()
	size := len(limiter.buckets)
	limiter.mu.Unlock()
	if size > 1 {
		t.Fatalf("expected refilled buckets to be swept, %d remain", size)
	}
}
