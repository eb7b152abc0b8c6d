package builtins

import (
	"fmt"

	"openalpha/internal/domain"
	"openalpha/internal/strategy"
)

var (
	_ strategy.Strategy = (*Momentum)(nil)
	_ strategy.Windowed = (*Momentum)(nil)
)

// Momentum emits a buy signal on every bar whose close has risen by more than
// threshold over the last lookback bars, and a sell signal on every bar whose
// close has fallen by more than threshold. There is no edge detection.
type Momentum struct {
	lookback  int
	threshold float64
}

// NewMomentum creates a Momentum strategy. threshold is a fraction, so 0.02
// means a 2% move.
func NewMomentum(lookback int, threshold float64) (*Momentum, error) {
	if err := strategy.PositiveInt(NameMomentum, "lookback_period", lookback); err != nil {
		return nil, err
	}
	if err := strategy.NonNegativeFloat(NameMomentum, "threshold", threshold); err != nil {
		return nil, err
	}
	return &Momentum{lookback: lookback, threshold: threshold}, nil
}

// Windows returns the lookback length.
func (m *Momentum) Windows() []strategy.Window {
	return []strategy.Window{{Param: "lookback_period", Bars: m.lookback}}
}

// Name returns "momentum".
func (m *Momentum) Name() string { return NameMomentum }

// Describe returns the strategy name, lookback, and threshold.
func (m *Momentum) Describe() string {
	return fmt.Sprintf("Momentum with parameters: lookback_period=%d, threshold=%g", m.lookback, m.threshold)
}

// GenerateSignals compares the rate of change over the lookback window with
// the threshold. The first lookback bars have no reference close and get
// SignalNone, as does any bar whose rate of change is NaN.
func (m *Momentum) GenerateSignals(bars []domain.Bar) []domain.Signal {
	signals := make([]domain.Signal, len(bars))
	for i := m.lookback; i < len(bars); i++ {
		change := bars[i].Close/bars[i-m.lookback].Close - 1
		switch {
		case change > m.threshold:
			signals[i] = domain.SignalBuy
		case change < -m.threshold:
			signals[i] = domain.SignalSell
		}
	}
	return signals
}
