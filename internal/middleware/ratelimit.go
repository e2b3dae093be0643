package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitStrategy selects the throttling algorithm
type RateLimitStrategy string

const (
	// FixedWindow counts requests per aligned window. Allows up to 2x burst at boundaries.
	FixedWindow RateLimitStrategy = "fixed_window"
	// SlidingWindow keeps one sorted-set member per request
	SlidingWindow RateLimitStrategy = "sliding_window"
	// TokenBucket refills Limit tokens per Window
	TokenBucket RateLimitStrategy = "token_bucket"
	// Local is an in-process token bucket, used when Redis is disabled
	Local RateLimitStrategy = "local"
)

// RateLimitConfig holds configuration for the rate limiter
type RateLimitConfig struct {
	Strategy RateLimitStrategy
	Limit    int
	Window   time.Duration

	// KeyFunc generates the rate limit key (default: IP and path)
	KeyFunc func(*gin.Context) string

	// ErrorHandler writes the response when the limit is exceeded
	ErrorHandler func(*gin.Context)

	// SkipFunc exempts requests from limiting
	SkipFunc func(*gin.Context) bool
}

func (cfg *RateLimitConfig) setDefaults() {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = IPAndPathKey
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	if cfg.SkipFunc == nil {
		cfg.SkipFunc = func(*gin.Context) bool { return false }
	}
}

// decision is the outcome of one limiter check
type decision struct {
	allowed   bool
	remaining int
	resetAt   int64 // unix seconds
}

// RateLimiter throttles HTTP requests using Redis so limits hold across instances
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	logger *zap.Logger
}

// NewRateLimiter creates a Redis-backed rate limiter
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, logger *zap.Logger) *RateLimiter {
	config.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		redis:  redisClient,
		config: config,
		logger: logger.With(zap.String("component", "rate_limiter")),
	}
}

// Middleware returns a Gin middleware function
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return limitHandler(rl.config, rl.logger, rl.check)
}

// limitHandler adapts a check function into gin middleware. Limiter errors
// fail open.
func limitHandler(cfg *RateLimitConfig, logger *zap.Logger, check func(context.Context, string) (decision, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.SkipFunc(c) {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		d, err := check(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter error, failing open", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.resetAt, 10))

		if !d.allowed {
			retryAfter := d.resetAt - time.Now().Unix()
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			cfg.ErrorHandler(c)
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) check(ctx context.Context, key string) (decision, error) {
	switch rl.config.Strategy {
	case SlidingWindow:
		return rl.slidingWindowCheck(ctx, key)
	case TokenBucket:
		return rl.tokenBucketCheck(ctx, key)
	default:
		return rl.fixedWindowCheck(ctx, key)
	}
}

// fixedWindowCheck keeps one INCR counter per aligned window
func (rl *RateLimiter) fixedWindowCheck(ctx context.Context, key string) (decision, error) {
	windowStart := time.Now().Truncate(rl.config.Window).Unix()
	windowKey := fmt.Sprintf("%s:%d", key, windowStart)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, rl.config.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return decision{}, err
	}

	count := int(incr.Val())
	return decision{
		allowed:   count <= rl.config.Limit,
		remaining: remaining(rl.config.Limit, count),
		resetAt:   windowStart + int64(rl.config.Window.Seconds()),
	}, nil
}

// slidingWindowCheck logs each request timestamp in a sorted set
func (rl *RateLimiter) slidingWindowCheck(ctx context.Context, key string) (decision, error) {
	now := time.Now()
	nowNano := now.UnixNano()
	windowStart := now.Add(-rl.config.Window).UnixNano()

	pipe := rl.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowNano), Member: nowNano})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, rl.config.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return decision{}, err
	}

	count := int(card.Val())
	return decision{
		allowed:   count <= rl.config.Limit,
		remaining: remaining(rl.config.Limit, count),
		resetAt:   now.Add(rl.config.Window).Unix(),
	}, nil
}

// tokenBucketCheck stores the bucket level and last refill time in two keys.
// The read-modify-write is not atomic; concurrent requests may overspend by a few tokens.
func (rl *RateLimiter) tokenBucketCheck(ctx context.Context, key string) (decision, error) {
	now := time.Now()
	tokensKey := key + ":tokens"
	lastRefillKey := key + ":last_refill"
	limit := float64(rl.config.Limit)
	refillRate := limit / rl.config.Window.Seconds()

	pipe := rl.redis.Pipeline()
	getTokens := pipe.Get(ctx, tokensKey)
	getLastRefill := pipe.Get(ctx, lastRefillKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return decision{}, err
	}

	tokens := limit
	if v, err := getTokens.Float64(); err == nil {
		tokens = v
	}
	lastRefill := now.Unix()
	if v, err := getLastRefill.Int64(); err == nil {
		lastRefill = v
	}

	tokens += float64(now.Unix()-lastRefill) * refillRate
	if tokens > limit {
		tokens = limit
	}
	allowed := tokens >= 1.0
	if allowed {
		tokens--
	}

	pipe = rl.redis.Pipeline()
	pipe.Set(ctx, tokensKey, strconv.FormatFloat(tokens, 'f', 2, 64), rl.config.Window*2)
	pipe.Set(ctx, lastRefillKey, now.Unix(), rl.config.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return decision{}, err
	}

	resetAt := now.Unix()
	if tokens < 1.0 {
		resetAt += int64((1.0 - tokens) / refillRate)
	}
	return decision{allowed: allowed, remaining: remaining(int(tokens), 0), resetAt: resetAt}, nil
}

func remaining(limit, used int) int {
	if r := limit - used; r > 0 {
		return r
	}
	return 0
}

func defaultErrorHandler(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"code":    http.StatusTooManyRequests,
		"message": "Rate limit exceeded. Please try again later.",
		"error":   "RATE_LIMITED",
	})
}

// IPBasedKey generates a rate limit key based on client IP only
func IPBasedKey(c *gin.Context) string {
	return "rate_limit:ip:" + c.ClientIP()
}

// PathBasedKey generates a rate limit key shared by every client of an endpoint
func PathBasedKey(c *gin.Context) string {
	return "rate_limit:path:" + c.FullPath()
}

// IPAndPathKey generates a rate limit key based on both IP and route.
// The route pattern is used so /:code lookups share one bucket per client.
func IPAndPathKey(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return fmt.Sprintf("rate_limit:%s:%s", c.ClientIP(), path)
}

// SkipHealthCheck skips rate limiting for health and metrics endpoints
func SkipHealthCheck(c *gin.Context) bool {
	return c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics"
}

// SkipUnlessPath limits only requests whose route matches one of paths
func SkipUnlessPath(paths ...string) func(*gin.Context) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(c *gin.Context) bool {
		_, ok := set[c.FullPath()]
		return !ok
	}
}
