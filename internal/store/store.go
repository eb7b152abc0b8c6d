// Package store defines the persistence layer: daily bars and per-run equity
// curves in Parquet files, and backtest run summaries in SQLite.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"openalpha/internal/backtest"
	"openalpha/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under market, merging with any bars
	// already stored for the same dates.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end],
	// ordered by timestamp.
	ReadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error)

	// LastBarDate returns the timestamp of the most recent stored bar, or the
	// zero time when nothing is stored for symbol.
	LastBarDate(ctx context.Context, symbol string, market domain.Market) (time.Time, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// EquityStore keeps the full equity curve of a run next to its summary.
type EquityStore interface {
	WriteEquity(ctx context.Context, runID string, equity, returns []backtest.Point) error
	ReadEquity(ctx context.Context, runID string) (equity, returns []backtest.Point, err error)
}

// RunStore persists backtest run summaries.
type RunStore interface {
	// SaveRun inserts run, assigning ID and CreatedAt when they are empty.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a single run by its ID, or ErrNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs first, up to limit. A ticker
	// filter of "" matches every run.
	ListRuns(ctx context.Context, ticker string, limit int) ([]Run, error)

	// PruneRuns deletes all but the newest keep runs and returns how many
	// were removed.
	PruneRuns(ctx context.Context, keep int) (int64, error)
}

// Run is the stored summary of one backtest.
type Run struct {
	ID          string           `json:"id"`
	Ticker      string           `json:"ticker"`
	Strategy    string           `json:"strategy"`
	Description string           `json:"description"`
	Params      json.RawMessage  `json:"params,omitempty"`
	Options     backtest.Options `json:"options"`
	Metrics     backtest.Metrics `json:"metrics"`
	FinalEquity float64          `json:"final_equity"`
	NumBars     int              `json:"num_bars"`
	NumTrades   int              `json:"num_trades"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	CreatedAt   time.Time        `json:"created_at"`
}

// NewRun summarises result for storage. params is encoded as JSON.
func NewRun(ticker string, params any, bars []domain.Bar, result *backtest.Result) (*Run, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	run := &Run{
		Ticker:      ticker,
		Strategy:    result.Strategy,
		Description: result.Description,
		Params:      raw,
		Options:     result.Options,
		Metrics:     result.Metrics,
		FinalEquity: result.FinalEquity(),
		NumBars:     len(bars),
		NumTrades:   len(result.Trades),
	}
	if len(bars) > 0 {
		run.Start = bars[0].Timestamp
		run.End = bars[len(bars)-1].Timestamp
	}
	return run, nil
}
