// Package gather backfills the local bar store from a market data provider
// so backtests can run without network access.
package gather

import (
	"context"
	"log/slog"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the range contains no days.
func (r DateRange) Empty() bool {
	return r.End.Before(r.Start)
}

// RunEvery runs g immediately and then every interval until ctx is
// cancelled. Failed passes are logged and retried on the next tick.
func RunEvery(ctx context.Context, g Gatherer, interval time.Duration) error {
	log := slog.Default().With("gatherer", g.Name())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := g.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("gather pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
