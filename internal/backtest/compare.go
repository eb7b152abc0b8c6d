package backtest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"openalpha/internal/domain"
	"openalpha/internal/strategy"
)

// Compare backtests every strategy over the same history concurrently. The
// results are in the same order as strategies. The first failure cancels the
// remaining runs and is returned.
func Compare(ctx context.Context, bars []domain.Bar, strategies []strategy.Strategy, opts Options) ([]*Result, error) {
	results := make([]*Result, len(strategies))

	g, ctx := errgroup.WithContext(ctx)
	for i, s := range strategies {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := Run(bars, s, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
