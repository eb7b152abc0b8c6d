package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"openalpha/internal/domain"
	"openalpha/internal/util"
)

// Compile-time interface check.
var _ Provider = (*AlpacaProvider)(nil)

// barClient is the subset of *marketdata.Client used by AlpacaProvider.
type barClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetLatestBar(symbol string, req marketdata.GetLatestBarRequest) (*marketdata.Bar, error)
}

// AlpacaOptions configures an AlpacaProvider.
type AlpacaOptions struct {
	APIKey          string
	APISecret       string
	DataURL         string
	Feed            string
	RateLimitPerMin int
	MaxAttempts     int
	RetryDelay      time.Duration
}

// AlpacaProvider fetches split- and dividend-adjusted daily bars from the
// Alpaca market data API.
type AlpacaProvider struct {
	client      barClient
	feed        marketdata.Feed
	limiter     *util.RateLimiter
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
	log         *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider from opts.
func NewAlpacaProvider(opts AlpacaOptions) *AlpacaProvider {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	return newAlpacaProvider(marketdata.NewClient(clientOpts), opts)
}

func newAlpacaProvider(client barClient, opts AlpacaOptions) *AlpacaProvider {
	feed := opts.Feed
	if feed == "" {
		feed = "sip"
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &AlpacaProvider{
		client:      client,
		feed:        marketdata.Feed(feed),
		limiter:     util.NewRateLimiter(opts.RateLimitPerMin),
		maxAttempts: maxAttempts,
		retryDelay:  opts.RetryDelay,
		now:         time.Now,
		log:         slog.Default().With("component", "alpaca-provider"),
	}
}

// History fetches daily bars for req.
func (p *AlpacaProvider) History(ctx context.Context, req Request) ([]domain.Bar, error) {
	req = req.Normalized()
	if req.Ticker == "" {
		return nil, fmt.Errorf("%w: empty ticker", domain.ErrInvalidBar)
	}
	start, end := req.Range(p.now())

	var raw []marketdata.Bar
	err := util.Retry(ctx, p.maxAttempts, p.retryDelay, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		bars, err := p.client.GetBars(req.Ticker, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.All,
			Start:      start,
			End:        end,
			Feed:       p.feed,
		})
		if err != nil {
			if !retryable(err) {
				return util.Permanent(err)
			}
			p.log.Warn("GetBars failed, retrying", "ticker", req.Ticker, "err", err)
			return err
		}
		raw = bars
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s bars: %w", req.Ticker, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s %s..%s: %w", req.Ticker, start.Format(time.DateOnly), end.Format(time.DateOnly), ErrNoData)
	}

	bars := make([]domain.Bar, len(raw))
	for i, ab := range raw {
		bars[i] = fromAlpaca(req.Ticker, ab)
	}
	bars = clean(bars)

	p.log.Debug("fetched bars", "ticker", req.Ticker, "bars", len(bars),
		"start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly))
	return bars, nil
}

// LatestPrice returns the close of the latest daily bar for ticker.
func (p *AlpacaProvider) LatestPrice(ctx context.Context, ticker string) (float64, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	var bar *marketdata.Bar
	err := util.Retry(ctx, p.maxAttempts, p.retryDelay, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		b, err := p.client.GetLatestBar(ticker, marketdata.GetLatestBarRequest{Feed: p.feed})
		if err != nil {
			if !retryable(err) {
				return util.Permanent(err)
			}
			return err
		}
		bar = b
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("latest bar for %s: %w", ticker, err)
	}
	if bar == nil {
		return 0, fmt.Errorf("latest bar for %s: %w", ticker, ErrNoData)
	}
	return bar.Close, nil
}

func fromAlpaca(symbol string, ab marketdata.Bar) domain.Bar {
	return domain.Bar{
		Symbol:     symbol,
		Timestamp:  ab.Timestamp.UTC(),
		Open:       ab.Open,
		High:       ab.High,
		Low:        ab.Low,
		Close:      ab.Close,
		Volume:     int64(ab.Volume),
		TradeCount: int64(ab.TradeCount),
		VWAP:       ab.VWAP,
	}
}

// retryable reports whether err is worth another attempt: rate limiting,
// server errors and transport failures are; other API errors are not.
func retryable(err error) bool {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
