// Package engine is the application service behind every surface: it
// resolves a backtest request against the configured defaults and limits,
// fetches history, runs the strategy through the simulation core, and
// records the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"openalpha/internal/backtest"
	"openalpha/internal/config"
	"openalpha/internal/domain"
	"openalpha/internal/marketdata"
	"openalpha/internal/store"
	"openalpha/internal/strategy"
)

// Version is the service release reported by every front end. It can be
// overridden at link time with -ldflags "-X openalpha/internal/engine.Version=...".
var Version = "0.1.0"

// ErrUpstream marks failures of the market data source.
var ErrUpstream = errors.New("market data source failed")

// Request describes one backtest. Zero-valued fields take the engine
// defaults; the option pointers distinguish an explicit zero from unset.
type Request struct {
	Ticker         string         `json:"ticker"`
	Strategy       string         `json:"strategy"`
	Period         string         `json:"period,omitempty"`
	Start          time.Time      `json:"start,omitempty"`
	End            time.Time      `json:"end,omitempty"`
	StrategyParams map[string]any `json:"strategy_params,omitempty"`
	InitialCapital *float64       `json:"initial_capital,omitempty"`
	Commission     *float64       `json:"commission,omitempty"`
	PositionSize   *float64       `json:"position_size,omitempty"`
}

// Defaults fill the unset fields of a Request.
type Defaults struct {
	Strategy string
	Period   string
	Params   strategy.Params
	Options  backtest.Options
}

// DefaultsFromConfig reads Defaults from the backtest config section.
func DefaultsFromConfig(c config.BacktestConfig) Defaults {
	return Defaults{
		Strategy: c.Strategy,
		Period:   c.Period,
		Params:   c.StrategyParams(),
		Options:  c.Options(),
	}
}

// Outcome is a completed backtest together with the data it ran on.
type Outcome struct {
	RunID  string
	Ticker string
	Period string
	Params strategy.Params
	Bars   int
	Start  time.Time
	End    time.Time
	Result *backtest.Result
}

// Engine runs backtests for the HTTP, gRPC and CLI front ends.
type Engine struct {
	provider marketdata.Provider
	registry *strategy.Registry
	runs     store.RunStore
	equity   store.EquityStore
	limits   *Limits
	defaults Defaults
	sem      *semaphore.Weighted
	observer Observer
	log      *slog.Logger
}

// Observer is told about every finished backtest. result is "ok" or the
// Kind of the error.
type Observer interface {
	ObserveBacktest(strategy, result string, elapsed time.Duration)
}

// NewEngine creates an Engine. runs and equity may be nil to skip recording
// runs; limits may be nil for no limits.
func NewEngine(
	provider marketdata.Provider,
	registry *strategy.Registry,
	runs store.RunStore,
	equity store.EquityStore,
	limits *Limits,
	defaults Defaults,
) *Engine {
	if limits == nil {
		limits = &Limits{}
	}
	var sem *semaphore.Weighted
	if limits.MaxConcurrentRuns > 0 {
		sem = semaphore.NewWeighted(int64(limits.MaxConcurrentRuns))
	}
	return &Engine{
		provider: provider,
		registry: registry,
		runs:     runs,
		equity:   equity,
		limits:   limits,
		defaults: defaults,
		sem:      sem,
		log:      slog.Default().With("component", "engine"),
	}
}

// SetObserver installs o. Call before serving requests.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// Strategies lists the registered strategies sorted by name.
func (e *Engine) Strategies() []strategy.Info {
	return e.registry.List()
}

// Defaults returns the values applied to unset request fields.
func (e *Engine) Defaults() Defaults {
	return e.defaults
}

// ---------------------------------------------------------------------------
// Backtests
// ---------------------------------------------------------------------------

// resolved is a Request with every default applied.
type resolved struct {
	market   marketdata.Request
	strategy string
	params   strategy.Params
	opts     backtest.Options
}

func (e *Engine) resolve(req Request) (resolved, error) {
	var r resolved

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		return r, &strategy.ConfigError{Param: "ticker", Err: strategy.ErrInvalidParam, Detail: "must not be empty"}
	}
	period := req.Period
	if period == "" {
		period = e.defaults.Period
	}
	r.market = marketdata.Request{Ticker: ticker, Period: period, Start: req.Start, End: req.End}.Normalized()
	if !r.market.Start.IsZero() && !r.market.End.IsZero() && r.market.End.Before(r.market.Start) {
		return r, &strategy.ConfigError{Param: "end", Err: strategy.ErrInvalidParam, Detail: "must not be before start"}
	}

	r.strategy = req.Strategy
	if r.strategy == "" {
		r.strategy = e.defaults.Strategy
	}

	params, err := e.defaults.Params.With(req.StrategyParams)
	if err != nil {
		return r, withStrategy(err, r.strategy)
	}
	r.params = params

	r.opts = e.defaults.Options
	if req.InitialCapital != nil {
		r.opts.InitialCapital = *req.InitialCapital
	}
	if req.Commission != nil {
		r.opts.Commission = *req.Commission
	}
	if req.PositionSize != nil {
		r.opts.PositionSize = *req.PositionSize
	}
	return r, nil
}

func withStrategy(err error, name string) error {
	var cfgErr *strategy.ConfigError
	if errors.As(err, &cfgErr) && cfgErr.Strategy == "" {
		cfgErr.Strategy = name
	}
	return err
}

// Run backtests a single strategy.
func (e *Engine) Run(ctx context.Context, req Request) (*Outcome, error) {
	began := time.Now()
	name := req.Strategy
	if name == "" {
		name = e.defaults.Strategy
	}
	out, err := e.run(ctx, req)
	e.observe(name, err, began)
	return out, err
}

func (e *Engine) run(ctx context.Context, req Request) (*Outcome, error) {
	r, err := e.resolve(req)
	if err != nil {
		return nil, err
	}
	s, err := e.registry.New(r.strategy, r.params)
	if err != nil {
		return nil, err
	}
	if err := r.opts.Validate(); err != nil {
		return nil, err
	}
	if err := e.limits.Check(s, r.opts); err != nil {
		return nil, err
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	bars, err := e.history(ctx, r.market)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := backtest.Run(bars, s, r.opts)
	if err != nil {
		return nil, err
	}
	e.log.Info("backtest complete",
		"ticker", r.market.Ticker,
		"strategy", r.strategy,
		"bars", len(bars),
		"total_return", res.Metrics.TotalReturn,
		"elapsed", time.Since(start),
	)

	out := newOutcome(r, bars, res)
	e.record(ctx, out, bars)
	return out, nil
}

// Compare backtests several strategies over one history fetched once. The
// strategy field of req is ignored; names gives the strategies in output
// order, all built from req's parameters.
func (e *Engine) Compare(ctx context.Context, req Request, names []string) ([]*Outcome, error) {
	began := time.Now()
	outs, err := e.compare(ctx, req, names)
	for _, name := range names {
		e.observe(name, err, began)
	}
	return outs, err
}

func (e *Engine) compare(ctx context.Context, req Request, names []string) ([]*Outcome, error) {
	if len(names) == 0 {
		return nil, &strategy.ConfigError{Param: "strategies", Err: strategy.ErrInvalidParam, Detail: "at least one strategy is required"}
	}
	if err := e.limits.CheckCompare(len(names)); err != nil {
		return nil, err
	}

	r, err := e.resolve(req)
	if err != nil {
		return nil, err
	}
	strategies := make([]strategy.Strategy, len(names))
	for i, name := range names {
		s, err := e.registry.New(name, r.params)
		if err != nil {
			return nil, err
		}
		strategies[i] = s
	}
	if err := r.opts.Validate(); err != nil {
		return nil, err
	}
	for _, s := range strategies {
		if err := e.limits.Check(s, r.opts); err != nil {
			return nil, err
		}
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	bars, err := e.history(ctx, r.market)
	if err != nil {
		return nil, err
	}
	results, err := backtest.Compare(ctx, bars, strategies, r.opts)
	if err != nil {
		return nil, err
	}

	outs := make([]*Outcome, len(results))
	for i, res := range results {
		outs[i] = newOutcome(r, bars, res)
		e.record(ctx, outs[i], bars)
	}
	return outs, nil
}

// observe reports to the observer. Unregistered names are folded into
// "unknown" to keep label values bounded.
func (e *Engine) observe(name string, err error, began time.Time) {
	if e.observer == nil {
		return
	}
	if !e.registry.Has(name) {
		name = "unknown"
	}
	result := "ok"
	if err != nil {
		result = ErrorKind(err).String()
	}
	e.observer.ObserveBacktest(name, result, time.Since(began))
}

func newOutcome(r resolved, bars []domain.Bar, res *backtest.Result) *Outcome {
	return &Outcome{
		Ticker: r.market.Ticker,
		Period: r.market.Period,
		Params: r.params,
		Bars:   len(bars),
		Start:  bars[0].Timestamp,
		End:    bars[len(bars)-1].Timestamp,
		Result: res,
	}
}

func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if e.sem == nil {
		return func() {}, nil
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { e.sem.Release(1) }, nil
}

// record stores the run summary and equity curve. Storage failures are
// logged; the backtest result is still returned to the caller.
func (e *Engine) record(ctx context.Context, out *Outcome, bars []domain.Bar) {
	if e.runs == nil {
		return
	}
	run, err := store.NewRun(out.Ticker, out.Params, bars, out.Result)
	if err != nil {
		e.log.Warn("encoding run failed", "err", err)
		return
	}
	if err := e.runs.SaveRun(ctx, run); err != nil {
		e.log.Warn("saving run failed", "ticker", out.Ticker, "err", err)
		return
	}
	out.RunID = run.ID

	if e.equity != nil {
		if err := e.equity.WriteEquity(ctx, run.ID, out.Result.Equity, out.Result.Returns); err != nil {
			e.log.Warn("saving equity curve failed", "run", run.ID, "err", err)
		}
	}
	if keep := e.limits.RunHistoryRetention; keep > 0 {
		if n, err := e.runs.PruneRuns(ctx, keep); err != nil {
			e.log.Warn("pruning runs failed", "err", err)
		} else if n > 0 {
			e.log.Debug("pruned runs", "removed", n)
		}
	}
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// MarketData returns the history a backtest with the same ticker and period
// would run on.
func (e *Engine) MarketData(ctx context.Context, ticker, period string) ([]domain.Bar, error) {
	if period == "" {
		period = e.defaults.Period
	}
	req := marketdata.Request{Ticker: ticker, Period: period}.Normalized()
	if req.Ticker == "" {
		return nil, &strategy.ConfigError{Param: "ticker", Err: strategy.ErrInvalidParam, Detail: "must not be empty"}
	}
	return e.history(ctx, req)
}

// LatestPrice returns the latest close for ticker.
func (e *Engine) LatestPrice(ctx context.Context, ticker string) (float64, error) {
	price, err := e.provider.LatestPrice(ctx, ticker)
	if err != nil {
		return 0, upstream(err)
	}
	return price, nil
}

func (e *Engine) history(ctx context.Context, req marketdata.Request) ([]domain.Bar, error) {
	bars, err := e.provider.History(ctx, req)
	if err != nil {
		return nil, upstream(err)
	}
	return bars, nil
}

// upstream tags provider failures other than missing data and cancellation.
func upstream(err error) error {
	if errors.Is(err, marketdata.ErrNoData) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

// ---------------------------------------------------------------------------
// Run history
// ---------------------------------------------------------------------------

// ErrNoRunStore is returned by the run history methods when the engine was
// built without a RunStore.
var ErrNoRunStore = errors.New("run history is not enabled")

// Runs lists recorded runs, newest first.
func (e *Engine) Runs(ctx context.Context, ticker string, limit int) ([]store.Run, error) {
	if e.runs == nil {
		return nil, ErrNoRunStore
	}
	return e.runs.ListRuns(ctx, strings.ToUpper(ticker), limit)
}

// GetRun returns a recorded run and, when stored, its equity curve.
func (e *Engine) GetRun(ctx context.Context, id string) (*store.Run, []backtest.Point, error) {
	if e.runs == nil {
		return nil, nil, ErrNoRunStore
	}
	run, err := e.runs.GetRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if e.equity == nil {
		return run, nil, nil
	}
	equity, _, err := e.equity.ReadEquity(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}
	return run, equity, nil
}
