package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Monthlyaway/shortlinkd/internal/model"
)

const (
	DefaultLimit          = 5
	DefaultWindow         = 60 * time.Minute
	DefaultAnonymousLimit = 20
)

var ErrQuotaExceeded = errors.New("link creation quota exceeded")

// ExceededError carries how long the caller should wait before retrying
type ExceededError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s: %d links per window, retry after %s", ErrQuotaExceeded, e.Limit, e.RetryAfter)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Counter is the slice of the link store the guard needs
type Counter interface {
	CountCreatedSince(ctx context.Context, creator model.Creator, since time.Time) (int64, error)
}

// Config holds the ceilings. AnonymousLimit 0 exempts anonymous creators.
type Config struct {
	Limit          int
	AnonymousLimit int
	Window         time.Duration
}

// Guard is a stateless sliding-window limiter over persisted creation times
type Guard struct {
	counter Counter
	cfg     Config
	now     func() time.Time
}

// Option customizes a Guard
type Option func(*Guard)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func NewGuard(counter Counter, cfg Config, opts ...Option) *Guard {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.AnonymousLimit < 0 {
		cfg.AnonymousLimit = 0
	}

	g := &Guard{counter: counter, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit fails with *ExceededError once the creator has reached the ceiling
// within the window. RetryAfter is the full window length.
func (g *Guard) Admit(ctx context.Context, creator model.Creator) error {
	limit := g.cfg.Limit
	if creator.IsAnonymous() {
		if g.cfg.AnonymousLimit == 0 {
			return nil
		}
		limit = g.cfg.AnonymousLimit
	}

	n, err := g.counter.CountCreatedSince(ctx, creator, g.now().UTC().Add(-g.cfg.Window))
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}
	if n >= int64(limit) {
		return &ExceededError{Limit: limit, RetryAfter: g.cfg.Window}
	}
	return nil
}
