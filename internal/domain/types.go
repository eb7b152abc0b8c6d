// Package domain defines the core value types shared across openalpha: daily
// price bars, trading signals, and the error kinds raised when a price history
// cannot be backtested.
package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
)

// Bar is a single daily OHLCV record.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Signal is a directional directive issued for one bar. SignalNone means no
// new directive was issued, not that the position should be flat.
type Signal int8

const (
	SignalSell Signal = -1
	SignalNone Signal = 0
	SignalBuy  Signal = 1
)

// Valid reports whether s is one of the three recognised signal values.
func (s Signal) Valid() bool {
	return s >= SignalSell && s <= SignalBuy
}

// String returns "buy", "sell" or "none".
func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	case SignalNone:
		return "none"
	default:
		return fmt.Sprintf("signal(%d)", int8(s))
	}
}

// ---------------------------------------------------------------------------
// Input validation
// ---------------------------------------------------------------------------

var (
	ErrEmptyHistory     = errors.New("price history is empty")
	ErrUnorderedHistory = errors.New("price history is not strictly increasing by date")
	ErrInvalidBar       = errors.New("bar has a negative or non-finite field")
)

// InputError reports a price history that cannot be backtested. Index is the
// offending bar, or -1 when the error concerns the history as a whole.
type InputError struct {
	Index int
	Date  time.Time
	Err   error
}

func (e *InputError) Error() string {
	if e.Index < 0 {
		return "input error: " + e.Err.Error()
	}
	return fmt.Sprintf("input error at bar %d (%s): %v", e.Index, e.Date.Format("2006-01-02"), e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// ValidateHistory checks that bars form a usable price history: at least one
// bar, strictly increasing timestamps, and finite non-negative prices and
// volume. Gaps between dates are not checked.
func ValidateHistory(bars []Bar) error {
	if len(bars) == 0 {
		return &InputError{Index: -1, Err: ErrEmptyHistory}
	}
	for i := range bars {
		b := &bars[i]
		if !validPrice(b.Open) || !validPrice(b.High) || !validPrice(b.Low) || !validPrice(b.Close) || b.Volume < 0 {
			return &InputError{Index: i, Date: b.Timestamp, Err: ErrInvalidBar}
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return &InputError{Index: i, Date: b.Timestamp, Err: ErrUnorderedHistory}
		}
	}
	return nil
}

func validPrice(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Closes returns the close price of every bar, in order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}
