package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// setupTestRedis connects to localhost:6379 DB 15 or skips the test
func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
	}
	client.FlushDB(ctx)
	t.Cleanup(func() { client.Close() })
	return client
}

func setupTestRouter(limiter interface{ Middleware() gin.HandlerFunc }) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(limiter.Middleware())
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "success"}) }
	router.GET("/test", ok)
	router.GET("/other", ok)
	router.GET("/health", ok)
	return router
}

func do(router http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestFixedWindowStrategy(t *testing.T) {
	limiter := NewRateLimiter(setupTestRedis(t), &RateLimitConfig{
		Strategy: FixedWindow,
		Limit:    5,
		Window:   time.Minute,
	}, zap.NewNop())
	router := setupTestRouter(limiter)

	for i := 0; i < 5; i++ {
		w := do(router, "/test")
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	}

	w := do(router, "/test")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestSlidingWindowStrategy(t *testing.T) {
	limiter := NewRateLimiter(setupTestRedis(t), &RateLimitConfig{
		Strategy: SlidingWindow,
		Limit:    3,
		Window:   2 * time.Second,
	}, zap.NewNop())
	router := setupTestRouter(limiter)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(router, "/test").Code, "request %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(router, "/test").Code)

	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, http.StatusOK, do(router, "/test").Code)
}

func TestTokenBucketStrategy(t *testing.T) {
	limiter := NewRateLimiter(setupTestRedis(t), &RateLimitConfig{
		Strategy: TokenBucket,
		Limit:    5,
		Window:   5 * time.Second, // 1 token per second
	}, zap.NewNop())
	router := setupTestRouter(limiter)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(router, "/test").Code, "request %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(router, "/test").Code)

	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, http.StatusOK, do(router, "/test").Code)
}

func TestIPBasedKeySharesLimitAcrossPaths(t *testing.T) {
	limiter := NewRateLimiter(setupTestRedis(t), &RateLimitConfig{
		Strategy: FixedWindow,
		Limit:    3,
		Window:   10 * time.Second,
		KeyFunc:  IPBasedKey,
	}, zap.NewNop())
	router := setupTestRouter(limiter)

	assert.Equal(t, http.StatusOK, do(router, "/test").Code)
	assert.Equal(t, http.StatusOK, do(router, "/test").Code)
	assert.Equal(t, http.StatusOK, do(router, "/other").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(router, "/test").Code)
}

func TestRateLimitHeaders(t *testing.T) {
	limiter := NewRateLimiter(setupTestRedis(t), &RateLimitConfig{
		Strategy: FixedWindow,
		Limit:    10,
		Window:   time.Minute,
	}, zap.NewNop())
	router := setupTestRouter(limiter)

	w := do(router, "/test")
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	w = do(router, "/test")
	assert.Equal(t, "8", w.Header().Get("X-RateLimit-Remaining"))
}

func TestConcurrentRequests(t *testing.T) {
	limiter := NewRateLimiter(setupTestRedis(t), &RateLimitConfig{
		Strategy: FixedWindow,
		Limit:    100,
		Window:   10 * time.Second,
	}, zap.NewNop())
	router := setupTestRouter(limiter)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, http.StatusOK, do(router, "/test").Code)
		}()
	}
	wg.Wait()
}

func TestRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	limiter := NewRateLimiter(client, &RateLimitConfig{
		Strategy: FixedWindow,
		Limit:    1,
		Window:   time.Minute,
	}, zap.NewNop())
	router := setupTestRouter(limiter)

	for i := 0; i < 3; i++ {
		w := do(router, "/test")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestLocalRateLimiter(t *testing.T) {
	limiter := NewLocalRateLimiter(&RateLimitConfig{
		Strategy: Local,
		Limit:    3,
		Window:   time.Minute,
		SkipFunc: SkipHealthCheck,
	}, zap.NewNop())
	now := time.Now()
	limiter.now = func() time.Time { return now }
	router := setupTestRouter(limiter)

	for i := 0; i < 3; i++ {
		w := do(router, "/test")
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	}

	w := do(router, "/test")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// separate bucket per route, health is exempt
	assert.Equal(t, http.StatusOK, do(router, "/other").Code)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(router, "/health").Code)
	}

	// one token refills every 20s
	now = now.Add(21 * time.Second)
	assert.Equal(t, http.StatusOK, do(router, "/test").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(router, "/test").Code)
}

func TestLocalRateLimiterSkipUnlessPath(t *testing.T) {
	limiter := NewLocalRateLimiter(&RateLimitConfig{
		Limit:    1,
		Window:   time.Hour,
		SkipFunc: SkipUnlessPath("/test"),
	}, zap.NewNop())
	router := setupTestRouter(limiter)

	assert.Equal(t, http.StatusOK, do(router, "/test").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(router, "/test").Code)
	assert.Equal(t, http.StatusOK, do(router, "/other").Code)
	assert.Equal(t, http.StatusOK, do(router, "/other").Code)
}

func TestLocalRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewLocalRateLimiter(&RateLimitConfig{Limit: 1, Window: time.Second}, zap.NewNop())
	now := time.Now()

	limiter.visitor("a", now)
	limiter.visitor("b", now.Add(9*time.Minute))

	assert.Equal(t, 1, limiter.evictIdle(now.Add(11*time.Minute)))
	assert.Len(t, limiter.visitors, 1)
}
