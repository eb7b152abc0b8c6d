// Package builtins provides the strategy implementations that ship with
// openalpha and registers them under their configuration names.
package builtins

import (
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"openalpha/internal/domain"
	"openalpha/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = (*SMACross)(nil)
	_ strategy.Windowed = (*SMACross)(nil)
)

// SMACross implements a simple moving average crossover strategy. It emits a
// buy signal on the bar where the fast SMA of close crosses above the slow
// SMA, and a sell signal on the bar where it crosses below.
type SMACross struct {
	fastWindow int
	slowWindow int
}

// NewSMACross creates a new SMACross strategy with the given window lengths.
// fast < slow is expected but not required.
func NewSMACross(fast, slow int) (*SMACross, error) {
	if err := strategy.PositiveInt(NameSMA, "fast_window", fast); err != nil {
		return nil, err
	}
	if err := strategy.PositiveInt(NameSMA, "slow_window", slow); err != nil {
		return nil, err
	}
	return &SMACross{
		fastWindow: fast,
		slowWindow: slow,
	}, nil
}

// Windows returns the fast and slow window lengths.
func (s *SMACross) Windows() []strategy.Window {
	return []strategy.Window{
		{Param: "fast_window", Bars: s.fastWindow},
		{Param: "slow_window", Bars: s.slowWindow},
	}
}

// Name returns "sma".
func (s *SMACross) Name() string {
	return NameSMA
}

// Describe returns the strategy name and windows.
func (s *SMACross) Describe() string {
	return fmt.Sprintf("SMACrossover with parameters: fast_window=%d, slow_window=%d", s.fastWindow, s.slowWindow)
}

// GenerateSignals computes both moving averages and marks crossover bars. A
// crossover at bar i needs both averages at i and i-1, so the first
// max(fast, slow) bars always get SignalNone.
func (s *SMACross) GenerateSignals(bars []domain.Bar) []domain.Signal {
	signals := make([]domain.Signal, len(bars))

	first := max(s.fastWindow, s.slowWindow)
	if len(bars) <= first {
		return signals
	}

	closes := domain.Closes(bars)
	fast := indicators.SMA(closes, s.fastWindow)
	slow := indicators.SMA(closes, s.slowWindow)

	for i := first; i < len(closes); i++ {
		switch {
		case fast[i] > slow[i] && fast[i-1] <= slow[i-1]:
			signals[i] = domain.SignalBuy
		case fast[i] < slow[i] && fast[i-1] >= slow[i-1]:
			signals[i] = domain.SignalSell
		}
	}
	return signals
}
