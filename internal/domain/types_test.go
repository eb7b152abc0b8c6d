package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestTypesExist(t *testing.T) {
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}

	if MarketUS != "us" {
		t.Errorf("MarketUS = %q, want %q", MarketUS, "us")
	}
	if SignalBuy != 1 || SignalSell != -1 || SignalNone != 0 {
		t.Error("Signal constants have unexpected values")
	}
}

func TestSignalValidAndString(t *testing.T) {
	for _, s := range []Signal{SignalSell, SignalNone, SignalBuy} {
		if !s.Valid() {
			t.Errorf("Signal(%d).Valid() = false, want true", s)
		}
	}
	if Signal(2).Valid() {
		t.Error("Signal(2).Valid() = true, want false")
	}
	if got := SignalBuy.String(); got != "buy" {
		t.Errorf("SignalBuy.String() = %q, want %q", got, "buy")
	}
	if got := SignalSell.String(); got != "sell" {
		t.Errorf("SignalSell.String() = %q, want %q", got, "sell")
	}
}

func TestValidateHistory(t *testing.T) {
	good := []Bar{
		{Symbol: "AAPL", Timestamp: day(0), Open: 1, High: 2, Low: 1, Close: 2, Volume: 10},
		{Symbol: "AAPL", Timestamp: day(1), Open: 2, High: 3, Low: 2, Close: 3, Volume: 10},
	}
	if err := ValidateHistory(good); err != nil {
		t.Fatalf("ValidateHistory(good) returned error: %v", err)
	}

	if err := ValidateHistory(nil); !errors.Is(err, ErrEmptyHistory) {
		t.Errorf("ValidateHistory(nil) = %v, want ErrEmptyHistory", err)
	}

	dup := []Bar{{Timestamp: day(0), Close: 1}, {Timestamp: day(0), Close: 1}}
	err := ValidateHistory(dup)
	if !errors.Is(err, ErrUnorderedHistory) {
		t.Errorf("ValidateHistory(dup) = %v, want ErrUnorderedHistory", err)
	}
	var inErr *InputError
	if !errors.As(err, &inErr) || inErr.Index != 1 {
		t.Errorf("ValidateHistory(dup) error = %#v, want InputError at index 1", err)
	}

	nan := []Bar{{Timestamp: day(0), Close: math.NaN()}}
	if err := ValidateHistory(nan); !errors.Is(err, ErrInvalidBar) {
		t.Errorf("ValidateHistory(NaN close) = %v, want ErrInvalidBar", err)
	}

	neg := []Bar{{Timestamp: day(0), Close: 1, Volume: -1}}
	if err := ValidateHistory(neg); !errors.Is(err, ErrInvalidBar) {
		t.Errorf("ValidateHistory(negative volume) = %v, want ErrInvalidBar", err)
	}
}

func TestCloses(t *testing.T) {
	bars := []Bar{{Close: 100}, {Close: 102}}
	got := Closes(bars)
	if len(got) != 2 || got[0] != 100 || got[1] != 102 {
		t.Errorf("Closes = %v, want [100 102]", got)
	}
}
