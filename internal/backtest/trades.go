package backtest

import (
	"time"

	"openalpha/internal/domain"
)

// Trade is one trade-log entry: a bar on which the strategy issued a
// non-zero signal, with that bar's close and the resulting position.
type Trade struct {
	Date     time.Time     `json:"date"`
	Signal   domain.Signal `json:"signal"`
	Price    float64       `json:"price"`
	Position float64       `json:"position"`
}

// ExtractTrades lists every bar with a non-zero signal. It is reporting only
// and has no effect on the simulation.
func ExtractTrades(bars []domain.Bar, signals []domain.Signal, positions []float64) []Trade {
	var trades []Trade
	for i, s := range signals {
		if s == domain.SignalNone {
			continue
		}
		trades = append(trades, Trade{
			Date:     bars[i].Timestamp,
			Signal:   s,
			Price:    bars[i].Close,
			Position: positions[i],
		})
	}
	return trades
}
