// Package marketdata supplies daily price history to the backtester. A
// Provider fetches bars for a ticker and date range; implementations read
// from the Alpaca market data API or the local Parquet store, and
// CachedProvider adds a bounded read-through cache in front of either.
package marketdata

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"openalpha/internal/domain"
)

// ErrNoData is returned when a source has no bars for the requested range.
var ErrNoData = errors.New("no market data")

// DefaultPeriod is used when a request names none.
const DefaultPeriod = "1y"

// Provider fetches historical daily bars and the latest known price.
type Provider interface {
	// History returns bars for req ordered by timestamp with no duplicate
	// dates. It returns ErrNoData instead of an empty slice.
	History(ctx context.Context, req Request) ([]domain.Bar, error)

	// LatestPrice returns the most recent close for ticker.
	LatestPrice(ctx context.Context, ticker string) (float64, error)
}

// Request selects a ticker's history either by an explicit [Start, End]
// range or by a named lookback Period ending now.
type Request struct {
	Ticker string    `json:"ticker"`
	Period string    `json:"period,omitempty"`
	Start  time.Time `json:"start,omitempty"`
	End    time.Time `json:"end,omitempty"`
}

// Normalized upper-cases the ticker and fills the default period.
func (r Request) Normalized() Request {
	r.Ticker = strings.ToUpper(strings.TrimSpace(r.Ticker))
	if r.Period == "" {
		r.Period = DefaultPeriod
	}
	return r
}

// periodDays covers each lookback with some slack for weekends and holidays.
var periodDays = map[string]int{
	"1d":  5,
	"5d":  10,
	"1mo": 35,
	"3mo": 95,
	"6mo": 190,
	"1y":  370,
	"2y":  740,
	"5y":  1850,
	"10y": 3660,
}

// PeriodNames lists the accepted period names.
func PeriodNames() []string {
	names := make([]string, 0, len(periodDays)+2)
	for name := range periodDays {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return periodDays[names[i]] < periodDays[names[j]] })
	return append(names, "ytd", "max")
}

// KnownPeriod reports whether ParsePeriod recognises period.
func KnownPeriod(period string) bool {
	p := strings.ToLower(period)
	_, ok := periodDays[p]
	return ok || p == "ytd" || p == "max"
}

// ParsePeriod returns the start of the lookback window named by period and
// ending at now. Unknown names fall back to one year.
func ParsePeriod(period string, now time.Time) time.Time {
	switch p := strings.ToLower(period); p {
	case "ytd":
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
	case "max":
		return time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		days, ok := periodDays[p]
		if !ok {
			days = periodDays[DefaultPeriod]
		}
		return now.AddDate(0, 0, -days)
	}
}

// Range resolves the request to a concrete [start, end] window. An explicit
// Start and End take precedence over Period.
func (r Request) Range(now time.Time) (start, end time.Time) {
	if !r.Start.IsZero() && !r.End.IsZero() {
		return r.Start, r.End
	}
	end = now
	if !r.End.IsZero() {
		end = r.End
	}
	if !r.Start.IsZero() {
		return r.Start, end
	}
	return ParsePeriod(r.Period, end), end
}

// clean sorts bars by timestamp and drops repeated dates, keeping the last
// one seen.
func clean(bars []domain.Bar) []domain.Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(b.Timestamp) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
