package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type expiredTokenStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenSweeper periodically purges refresh tokens whose expiry has
// passed. Expired rows are already unusable; the sweep just keeps the
// table from accumulating dead entries.
type TokenSweeper struct {
	store    expiredTokenStore
	interval time.Duration
	logger   *zap.Logger
}

// NewTokenSweeper constructs a sweeper with the given interval.
func NewTokenSweeper(store expiredTokenStore, interval time.Duration, logger *zap.Logger) *TokenSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenSweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps on a ticker until the context is cancelled. Failures are
// logged and the next tick tries again.
func (s *TokenSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepNow(ctx); err != nil {
				s.logger.Error("refresh token sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepNow purges expired tokens immediately and returns the count removed.
func (s *TokenSweeper) SweepNow(ctx context.Context) (int64, error) {
	removed, err := s.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("purged expired refresh tokens", zap.Int64("removed", removed))
	}
	return removed, nil
}
