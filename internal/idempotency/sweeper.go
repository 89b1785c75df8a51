package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/nimbase/gate/internal/store"
)

// Sweeper periodically deletes expired idempotency records and logs
// count/age statistics for operational visibility. It has no
// request-facing interface.
type Sweeper struct {
	store    store.Store
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper that runs every interval.
func NewSweeper(s store.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: s, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled, sweeping on each tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.store.DeleteExpiredIdempotencyRecords(ctx)
	if err != nil {
		s.logger.Error("idempotency sweep failed", "error", err)
		return
	}

	count, oldest, err := s.store.IdempotencyStats(ctx)
	if err != nil {
		s.logger.Error("idempotency stats failed", "error", err)
		s.logger.Info("idempotency sweep completed", "deleted", deleted)
		return
	}

	attrs := []any{"deleted", deleted, "remaining", count}
	if oldest != nil {
		attrs = append(attrs, "oldest_age", time.Since(*oldest).Round(time.Second).String())
	}
	s.logger.Info("idempotency sweep completed", attrs...)
}
