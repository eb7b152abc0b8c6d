package builtins

import (
	"openalpha/internal/domain"
	"openalpha/internal/strategy"
)

var _ strategy.Strategy = BuyAndHold{}

// BuyAndHold buys on the first bar and never trades again. It is the
// benchmark other strategies are compared with.
type BuyAndHold struct{}

// Name returns "buy_hold".
func (BuyAndHold) Name() string { return NameBuyHold }

// Describe returns "BuyAndHold with parameters: none".
func (BuyAndHold) Describe() string { return "BuyAndHold with parameters: none" }

// GenerateSignals returns SignalBuy for the first bar and SignalNone after.
func (BuyAndHold) GenerateSignals(bars []domain.Bar) []domain.Signal {
	signals := make([]domain.Signal, len(bars))
	if len(signals) > 0 {
		signals[0] = domain.SignalBuy
	}
	return signals
}
