package backtest

import "openalpha/internal/domain"

// BuildPositions turns a sparse signal sequence into a position for every
// bar by carrying the most recent non-zero signal forward. A SignalNone never
// resets the carried value, and bars before the first non-zero signal are
// flat.
func BuildPositions(signals []domain.Signal) []float64 {
	positions := make([]float64, len(signals))
	var current float64
	for i, s := range signals {
		if s != domain.SignalNone {
			current = float64(s)
		}
		positions[i] = current
	}
	return positions
}
