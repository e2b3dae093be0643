package service

import (
	"context"
	"time"

	"github.com/Monthlyaway/shortlinkd/internal/metrics"
	"github.com/Monthlyaway/shortlinkd/internal/repository"
	"go.uber.org/zap"
)

const DefaultSweepInterval = 10 * time.Minute

// Sweeper periodically hard-deletes expired links and rebuilds the bloom
// filter so codes freed here, or by other instances, stop testing positive.
type Sweeper struct {
	store    repository.LinkStore
	bloom    CodeFilter
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewSweeper(store repository.LinkStore, bloom CodeFilter, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:    store,
		bloom:    bloom,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "sweeper")),
	}
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce purges expired links and returns how many were removed
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	metrics.ExpiredLinksPurgedTotal.Add(float64(n))
	if n > 0 {
		s.logger.Info("purged expired links", zap.Int64("count", n))
	}

	if s.bloom != nil {
		err := s.bloom.Rebuild(func() ([]string, error) {
			return s.store.AllCodes(ctx)
		})
		if err != nil {
			// stale positives only cost a store lookup
			s.logger.Warn("bloom filter rebuild failed", zap.Error(err))
		}
	}
	return n, nil
}
