package engine

import (
	"errors"
	"fmt"

	"openalpha/internal/backtest"
	"openalpha/internal/config"
	"openalpha/internal/strategy"
)

// ErrLimitExceeded is wrapped by the ConfigError returned when a request
// asks for more than the server allows.
var ErrLimitExceeded = errors.New("limit exceeded")

// Limits bounds the resources a single request may use. Zero fields are
// unlimited.
type Limits struct {
	MaxInitialCapital   float64
	MaxCompare          int
	MaxWindow           int
	MaxConcurrentRuns   int
	RunHistoryRetention int
}

// LimitsFromConfig reads Limits from the limits config section.
func LimitsFromConfig(c config.LimitsConfig) *Limits {
	return &Limits{
		MaxInitialCapital:   c.MaxInitialCapital,
		MaxCompare:          c.MaxCompare,
		MaxWindow:           c.MaxWindow,
		MaxConcurrentRuns:   c.MaxConcurrentRuns,
		RunHistoryRetention: c.RunHistoryRetention,
	}
}

// Check evaluates whether the options and the windows the strategy
// actually reads fit the configured limits.
func (l *Limits) Check(s strategy.Strategy, opts backtest.Options) error {
	if l.MaxInitialCapital > 0 && opts.InitialCapital > l.MaxInitialCapital {
		return exceeded("initial_capital", fmt.Sprintf("%v is above the maximum of %v", opts.InitialCapital, l.MaxInitialCapital))
	}
	if l.MaxWindow <= 0 {
		return nil
	}
	w, ok := s.(strategy.Windowed)
	if !ok {
		return nil
	}
	for _, win := range w.Windows() {
		if win.Bars > l.MaxWindow {
			return withStrategy(exceeded(win.Param, fmt.Sprintf("%d is above the maximum of %d", win.Bars, l.MaxWindow)), s.Name())
		}
	}
	return nil
}

// CheckCompare evaluates the number of strategies in one comparison.
func (l *Limits) CheckCompare(n int) error {
	if l.MaxCompare > 0 && n > l.MaxCompare {
		return exceeded("strategies", fmt.Sprintf("%d requested, at most %d allowed", n, l.MaxCompare))
	}
	return nil
}

func exceeded(param, detail string) error {
	return &strategy.ConfigError{Param: param, Err: ErrLimitExceeded, Detail: detail}
}
