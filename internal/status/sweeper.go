package status

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper deletes sessions past their retention window on a fixed
// interval.
type Sweeper struct {
	store    SessionStore
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a retention sweeper.
func NewSweeper(store SessionStore, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps until the context is cancelled. Call it in its own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce deletes all currently expired sessions.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	ids, err := s.store.FindExpired(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("retention sweep query failed", zap.Error(err))
		return
	}

	removed := 0
	for _, id := range ids {
		if err := s.store.Delete(ctx, id); err != nil {
			s.logger.Warn("retention delete failed",
				zap.String("session_id", id),
				zap.Error(err),
			)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("retention sweep", zap.Int("removed", removed))
	}
}
