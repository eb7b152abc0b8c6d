package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"openalpha/internal/domain"
)

// ErrNonFiniteReturn is wrapped by NumericError when a period return cannot
// be represented, typically after a zero prior close.
var ErrNonFiniteReturn = errors.New("non-finite period return")

// NumericError reports the bar at which the simulation produced a value that
// cannot be compounded. Rows are never dropped silently.
type NumericError struct {
	Index int
	Date  time.Time
	Value float64
	Err   error
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("numeric error at bar %d (%s): %v: %v", e.Index, e.Date.Format("2006-01-02"), e.Err, e.Value)
}

func (e *NumericError) Unwrap() error { return e.Err }

// Simulate applies positions to the close-to-close returns of bars.
//
// The return at bar t uses position[t-1], so it only depends on what was
// known at the close of t-1. Each change in position costs
// |position[t]-position[t-1]| * commission, taken from that bar's return.
// The first bar has no return: netReturns has len(bars)-1 entries aligned
// with bars[1:], and equity[0] is initialCapital.
//
// Simulate fails with a NumericError on the first non-finite net return.
func Simulate(bars []domain.Bar, positions []float64, initialCapital, commission, positionSize float64) (netReturns, equity []float64, err error) {
	if len(positions) != len(bars) {
		return nil, nil, fmt.Errorf("simulate: %d positions for %d bars", len(positions), len(bars))
	}
	if len(bars) == 0 {
		return nil, nil, nil
	}

	netReturns = make([]float64, 0, len(bars)-1)
	equity = make([]float64, len(bars))
	equity[0] = initialCapital

	for t := 1; t < len(bars); t++ {
		priceReturn := bars[t].Close/bars[t-1].Close - 1
		raw := positions[t-1] * priceReturn * positionSize
		cost := math.Abs(positions[t]-positions[t-1]) * commission
		net := raw - cost

		if math.IsNaN(net) || math.IsInf(net, 0) {
			return nil, nil, &NumericError{Index: t, Date: bars[t].Timestamp, Value: net, Err: ErrNonFiniteReturn}
		}

		netReturns = append(netReturns, net)
		equity[t] = equity[t-1] * (1 + net)
	}
	return netReturns, equity, nil
}
