// Package backtest is the simulation engine: it turns a price history and a
// strategy's signals into positions, net returns, an equity curve, a trade
// log, and summary metrics.
//
// Every function here is a pure computation over its arguments. Inputs are
// never modified and outputs are freshly allocated, so distinct backtests can
// run concurrently without coordination.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"openalpha/internal/domain"
	"openalpha/internal/strategy"
)

// Default cost and sizing parameters.
const (
	DefaultCommission   = 0.001
	DefaultPositionSize = 1.0
)

// ErrInvalidSignals is returned when a strategy breaks its output contract.
var ErrInvalidSignals = errors.New("strategy returned invalid signals")

// Options are the capital, cost and sizing inputs of a backtest.
type Options struct {
	InitialCapital float64 `json:"initial_capital" yaml:"initial_capital"`
	Commission     float64 `json:"commission" yaml:"commission"`
	PositionSize   float64 `json:"position_size" yaml:"position_size"`
}

// DefaultOptions returns options for initialCapital with the default
// commission and a full position size.
func DefaultOptions(initialCapital float64) Options {
	return Options{
		InitialCapital: initialCapital,
		Commission:     DefaultCommission,
		PositionSize:   DefaultPositionSize,
	}
}

// Validate returns a strategy.ConfigError wrapping strategy.ErrInvalidParam
// for the first out-of-range option.
func (o Options) Validate() error {
	switch {
	case !(o.InitialCapital > 0) || math.IsInf(o.InitialCapital, 0):
		return invalidOption("initial_capital", fmt.Sprintf("must be a finite value > 0, got %v", o.InitialCapital))
	case !(o.Commission >= 0 && o.Commission < 1):
		return invalidOption("commission", fmt.Sprintf("must be in [0, 1), got %v", o.Commission))
	case !(o.PositionSize > 0 && o.PositionSize <= 1):
		return invalidOption("position_size", fmt.Sprintf("must be in (0, 1], got %v", o.PositionSize))
	}
	return nil
}

func invalidOption(param, detail string) error {
	return &strategy.ConfigError{Param: param, Err: strategy.ErrInvalidParam, Detail: detail}
}

// Point is one dated value of a series.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Result holds everything produced by one backtest. It is not modified after
// Run returns.
type Result struct {
	Strategy    string          `json:"strategy"`
	Description string          `json:"description"`
	Options     Options         `json:"options"`
	Signals     []domain.Signal `json:"signals"`
	Positions   []Point         `json:"positions"`
	Returns     []Point         `json:"returns"`
	Equity      []Point         `json:"equity_curve"`
	Trades      []Trade         `json:"trades"`
	Metrics     Metrics         `json:"metrics"`
}

// FinalEquity returns the last value of the equity curve.
func (r *Result) FinalEquity() float64 {
	if len(r.Equity) == 0 {
		return 0
	}
	return r.Equity[len(r.Equity)-1].Value
}

// Run backtests s over bars.
//
// Options are checked first, then the history, so configuration and input
// errors surface before any signal is generated. A history with a single bar
// is valid and produces zero metrics.
func Run(bars []domain.Bar, s strategy.Strategy, opts Options) (*Result, error) {
	if s == nil {
		return nil, &strategy.ConfigError{Err: strategy.ErrUnknownStrategy, Detail: "no strategy supplied"}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateHistory(bars); err != nil {
		return nil, err
	}

	signals := s.GenerateSignals(bars)
	if err := checkSignals(signals, len(bars)); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name(), err)
	}

	positions := BuildPositions(signals)
	returns, equity, err := Simulate(bars, positions, opts.InitialCapital, opts.Commission, opts.PositionSize)
	if err != nil {
		return nil, err
	}

	return &Result{
		Strategy:    s.Name(),
		Description: s.Describe(),
		Options:     opts,
		Signals:     signals,
		Positions:   series(bars, positions),
		Returns:     series(bars[1:], returns),
		Equity:      series(bars, equity),
		Trades:      ExtractTrades(bars, signals, positions),
		Metrics:     ComputeMetrics(returns, equity, opts.InitialCapital),
	}, nil
}

func checkSignals(signals []domain.Signal, n int) error {
	if len(signals) != n {
		return fmt.Errorf("%w: %d signals for %d bars", ErrInvalidSignals, len(signals), n)
	}
	for i, s := range signals {
		if !s.Valid() {
			return fmt.Errorf("%w: bar %d has signal %d", ErrInvalidSignals, i, s)
		}
	}
	return nil
}

func series(bars []domain.Bar, values []float64) []Point {
	out := make([]Point, len(values))
	for i, v := range values {
		out[i] = Point{Date: bars[i].Timestamp, Value: v}
	}
	return out
}
