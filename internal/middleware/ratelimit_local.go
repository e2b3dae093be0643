package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	visitorIdleTTL  = 10 * time.Minute
	visitorSweepGap = 5 * time.Minute
)

// LocalRateLimiter keeps one token bucket per key in process memory.
// Limits are per instance.
type LocalRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	config   *RateLimitConfig
	logger   *zap.Logger
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalRateLimiter allows config.Limit requests per config.Window per key,
// with bursts up to config.Limit.
func NewLocalRateLimiter(config *RateLimitConfig, logger *zap.Logger) *LocalRateLimiter {
	config.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(config.Limit) / config.Window.Seconds()),
		burst:    config.Limit,
		config:   config,
		logger:   logger.With(zap.String("component", "local_rate_limiter")),
		now:      time.Now,
	}
}

func (l *LocalRateLimiter) Middleware() gin.HandlerFunc {
	return limitHandler(l.config, l.logger, l.check)
}

func (l *LocalRateLimiter) check(_ context.Context, key string) (decision, error) {
	now := l.now()
	lim := l.visitor(key, now)

	allowed := lim.AllowN(now, 1)
	tokens := lim.TokensAt(now)
	resetAt := now.Unix()
	if tokens < 1 && l.limit > 0 {
		resetAt = now.Add(time.Duration((1 - tokens) / float64(l.limit) * float64(time.Second))).Unix()
	}
	return decision{allowed: allowed, remaining: remaining(int(tokens), 0), resetAt: resetAt}, nil
}

func (l *LocalRateLimiter) visitor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Cleanup drops idle visitors until ctx is cancelled
func (l *LocalRateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(visitorSweepGap)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evictIdle(l.now())
		}
	}
}

func (l *LocalRateLimiter) evictIdle(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorIdleTTL {
			delete(l.visitors, key)
			n++
		}
	}
	return n
}
