package builtins

import (
	"openalpha/internal/strategy"
)

// Registry names of the built-in strategies.
const (
	NameSMA      = "sma"
	NameMomentum = "momentum"
	NameBuyHold  = "buy_hold"
)

// Register adds every built-in strategy to r.
func Register(r *strategy.Registry) {
	r.Register(NameSMA, "Simple Moving Average Crossover Strategy", func(p strategy.Params) (strategy.Strategy, error) {
		return NewSMACross(p.FastWindow, p.SlowWindow)
	})
	r.Register(NameMomentum, "Price Momentum Strategy", func(p strategy.Params) (strategy.Strategy, error) {
		return NewMomentum(p.LookbackPeriod, p.Threshold)
	})
	r.Register(NameBuyHold, "Simple buy and hold strategy for benchmarking", func(_ strategy.Params) (strategy.Strategy, error) {
		return BuyAndHold{}, nil
	})
}

// NewRegistry returns a Registry holding only the built-in strategies.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}
