// Package strategy defines the Strategy interface for signal-generation rules
// and provides a Registry that maps configuration names to constructors.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"openalpha/internal/domain"
)

// Strategy is the interface that all signal-generation rules must implement.
//
// GenerateSignals must return exactly one signal per input bar and must not
// read bars after index i when deciding the signal for bar i. The backtest
// engine relies on this for its no-lookahead guarantee; nothing enforces it.
type Strategy interface {
	// Name returns the registry name of this strategy.
	Name() string

	// Describe returns a human-readable summary of the strategy and its
	// parameters. It is diagnostic only.
	Describe() string

	// GenerateSignals maps a price history to one signal per bar.
	GenerateSignals(bars []domain.Bar) []domain.Signal
}

// Window is one lookback length a strategy reads, named by its parameter.
type Window struct {
	Param string
	Bars  int
}

// Windowed is implemented by strategies that look back over a number of
// bars. Strategies that do not implement it use no windows.
type Windowed interface {
	Windows() []Window
}

// Params carries every tunable recognised by the built-in strategies. Each
// factory reads only the fields it needs.
type Params struct {
	FastWindow     int     `json:"fast_window" yaml:"fast_window"`
	SlowWindow     int     `json:"slow_window" yaml:"slow_window"`
	LookbackPeriod int     `json:"lookback_period" yaml:"lookback_period"`
	Threshold      float64 `json:"threshold" yaml:"threshold"`
}

// DefaultParams returns the stock parameter set: SMA 20/50 and a 14-bar
// momentum lookback with a 2% threshold.
func DefaultParams() Params {
	return Params{
		FastWindow:     20,
		SlowWindow:     50,
		LookbackPeriod: 14,
		Threshold:      0.02,
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrInvalidParam    = errors.New("invalid parameter")
)

// ConfigError reports a strategy that cannot be constructed from the supplied
// name and parameters.
type ConfigError struct {
	Strategy string
	Param    string
	Err      error
	Detail   string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config error: ")
	b.WriteString(e.Err.Error())
	if e.Param != "" {
		fmt.Fprintf(&b, " %s", e.Param)
	}
	if e.Strategy != "" {
		fmt.Fprintf(&b, " (strategy %q)", e.Strategy)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PositiveInt returns a ConfigError if v is not a positive integer.
func PositiveInt(strategyName, param string, v int) error {
	if v <= 0 {
		return &ConfigError{Strategy: strategyName, Param: param, Err: ErrInvalidParam, Detail: fmt.Sprintf("must be > 0, got %d", v)}
	}
	return nil
}

// NonNegativeFloat returns a ConfigError if v is negative or not finite.
func NonNegativeFloat(strategyName, param string, v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return &ConfigError{Strategy: strategyName, Param: param, Err: ErrInvalidParam, Detail: fmt.Sprintf("must be a finite value >= 0, got %v", v)}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Factory constructs a Strategy from a parameter set, validating the fields
// it uses.
type Factory func(p Params) (Strategy, error)

// Info describes a registered strategy for listings.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type entry struct {
	info    Info
	factory Factory
}

// Registry holds the closed set of constructible strategies, keyed by name.
// A Registry is safe for concurrent lookups once registration is done.
type Registry struct {
	entries map[string]entry
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds a constructor under name, replacing any previous one.
func (r *Registry) Register(name, description string, f Factory) {
	r.entries[name] = entry{
		info:    Info{Name: name, Description: description},
		factory: f,
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// New builds the strategy registered under name. An unregistered name is a
// ConfigError wrapping ErrUnknownStrategy; it is never replaced by a default.
func (r *Registry) New(name string, p Params) (Strategy, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, &ConfigError{
			Strategy: name,
			Err:      ErrUnknownStrategy,
			Detail:   "available: " + strings.Join(r.Names(), ", "),
		}
	}
	return e.factory(p)
}

// Names returns the sorted registered names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns Info for every registered strategy, sorted by name.
func (r *Registry) List() []Info {
	names := r.Names()
	out := make([]Info, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name].info)
	}
	return out
}
