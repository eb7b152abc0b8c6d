package marketdata

import (
	"context"
	"fmt"
	"time"

	"openalpha/internal/domain"
	"openalpha/internal/store"
)

// Compile-time interface check.
var _ Provider = (*StoreProvider)(nil)

// StoreProvider serves history from a local BarStore, typically one filled by
// the gather job.
type StoreProvider struct {
	bars   store.BarStore
	market domain.Market
	now    func() time.Time
}

// NewStoreProvider returns a provider reading market bars from s.
func NewStoreProvider(s store.BarStore, market domain.Market) *StoreProvider {
	return &StoreProvider{bars: s, market: market, now: time.Now}
}

// History reads the requested range from the store.
func (p *StoreProvider) History(ctx context.Context, req Request) ([]domain.Bar, error) {
	req = req.Normalized()
	start, end := req.Range(p.now())

	bars, err := p.bars.ReadBars(ctx, req.Ticker, p.market, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s %s..%s in local store: %w", req.Ticker, start.Format(time.DateOnly), end.Format(time.DateOnly), ErrNoData)
	}
	return clean(bars), nil
}

// LatestPrice returns the close of the newest stored bar.
func (p *StoreProvider) LatestPrice(ctx context.Context, ticker string) (float64, error) {
	req := Request{Ticker: ticker}.Normalized()
	last, err := p.bars.LastBarDate(ctx, req.Ticker, p.market)
	if err != nil {
		return 0, err
	}
	if last.IsZero() {
		return 0, fmt.Errorf("%s in local store: %w", req.Ticker, ErrNoData)
	}
	bars, err := p.bars.ReadBars(ctx, req.Ticker, p.market, last, last)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("%s in local store: %w", req.Ticker, ErrNoData)
	}
	return bars[len(bars)-1].Close, nil
}
