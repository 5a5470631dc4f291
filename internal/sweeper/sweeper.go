package sweeper

import (
	"context"
	"log/slog"
	"time"
)

const sweepTimeout = 30 * time.Second

type Expirer interface {
	MarkExpiredPackages(ctx context.Context) (int64, error)
}

// Sweeper periodically expires training packages whose validity window has
// passed.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
}

func New(expirer Expirer, interval time.Duration) *Sweeper {
	return &Sweeper{
		expirer:  expirer,
		interval: interval,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("expiration sweeper started", "interval", s.interval)
	s.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping expiration sweeper")
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single bounded sweep. Failures are logged; the next tick
// retries.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	start := time.Now()
	count, err := s.expirer.MarkExpiredPackages(ctx)
	if err != nil {
		slog.Error("expiration sweep failed", "error", err)
		return 0
	}
	slog.Debug("expiration sweep finished", "expired", count, "took", time.Since(start))
	return count
}
