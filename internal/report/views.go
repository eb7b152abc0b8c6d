// Package report shapes backtest results for people and for the wire. The
// core keeps metrics as full-precision fractions; rounding and percentage
// scaling happen only here.
package report

import (
	"encoding/json"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"openalpha/internal/backtest"
	"openalpha/internal/domain"
	"openalpha/internal/store"
	"openalpha/internal/strategy"
)

// DateLayout is the date format used in every JSON view.
const DateLayout = "2006-01-02"

var hundred = decimal.NewFromInt(100)

// Percent scales a fraction to a percentage rounded to two places.
func Percent(fraction float64) float64 {
	return saturate(decimal.NewFromFloat(clampInput(fraction)).Mul(hundred).Round(2).InexactFloat64())
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return saturate(decimal.NewFromFloat(clampInput(v)).Round(2).InexactFloat64())
}

// clampInput keeps NaN and infinities away from decimal.NewFromFloat, which
// panics on them.
func clampInput(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

// saturate maps an overflowed result back to the largest finite magnitude so
// every view stays JSON encodable.
func saturate(v float64) float64 {
	switch {
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

// MetricsView is the metrics record as reported: percentages for the return
// and risk figures, a plain ratio for Sharpe.
type MetricsView struct {
	TotalReturn  float64 `json:"total_return"`
	AnnualReturn float64 `json:"annual_return"`
	Volatility   float64 `json:"volatility"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	NumTrades    int     `json:"num_trades"`
}

// NewMetricsView converts core metrics for presentation.
func NewMetricsView(m backtest.Metrics) MetricsView {
	return MetricsView{
		TotalReturn:  Percent(m.TotalReturn),
		AnnualReturn: Percent(m.AnnualReturn),
		Volatility:   Percent(m.Volatility),
		SharpeRatio:  Round2(m.SharpeRatio),
		MaxDrawdown:  Percent(m.MaxDrawdown),
		WinRate:      Percent(m.WinRate),
		NumTrades:    m.NumTrades,
	}
}

// TradeView is one trade log entry on the wire.
type TradeView struct {
	Date     string  `json:"date"`
	Signal   int     `json:"signal"`
	Price    float64 `json:"price"`
	Position float64 `json:"position"`
}

// NewTradeViews converts a trade log.
func NewTradeViews(trades []backtest.Trade) []TradeView {
	out := make([]TradeView, len(trades))
	for i, t := range trades {
		out[i] = TradeView{
			Date:     t.Date.Format(DateLayout),
			Signal:   int(t.Signal),
			Price:    t.Price,
			Position: t.Position,
		}
	}
	return out
}

// EquityCurve keys equity values by date.
func EquityCurve(points []backtest.Point) map[string]float64 {
	out := make(map[string]float64, len(points))
	for _, p := range points {
		out[p.Date.Format(DateLayout)] = p.Value
	}
	return out
}

// BacktestView is the response body of a backtest.
type BacktestView struct {
	RunID          string             `json:"run_id,omitempty"`
	Ticker         string             `json:"ticker"`
	Strategy       string             `json:"strategy"`
	Description    string             `json:"description"`
	Period         string             `json:"period,omitempty"`
	Params         strategy.Params    `json:"strategy_params"`
	InitialCapital float64            `json:"initial_capital"`
	FinalEquity    float64            `json:"final_equity"`
	DataPoints     int                `json:"data_points"`
	Metrics        MetricsView        `json:"metrics"`
	EquityCurve    map[string]float64 `json:"equity_curve"`
	Trades         []TradeView        `json:"trades"`
}

// BacktestInput carries what NewBacktestView needs besides the result.
type BacktestInput struct {
	RunID      string
	Ticker     string
	Period     string
	Params     strategy.Params
	DataPoints int
}

// NewBacktestView shapes a result for the wire.
func NewBacktestView(in BacktestInput, res *backtest.Result) BacktestView {
	return BacktestView{
		RunID:          in.RunID,
		Ticker:         in.Ticker,
		Strategy:       res.Strategy,
		Description:    res.Description,
		Period:         in.Period,
		Params:         in.Params,
		InitialCapital: res.Options.InitialCapital,
		FinalEquity:    Round2(res.FinalEquity()),
		DataPoints:     in.DataPoints,
		Metrics:        NewMetricsView(res.Metrics),
		EquityCurve:    EquityCurve(res.Equity),
		Trades:         NewTradeViews(res.Trades),
	}
}

// BarView is one row of a market data response.
type BarView struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// DateRange is an inclusive pair of dates.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MarketDataView is the response body of a market data request.
type MarketDataView struct {
	Ticker      string    `json:"ticker"`
	Period      string    `json:"period"`
	DataPoints  int       `json:"data_points"`
	DateRange   DateRange `json:"date_range"`
	LatestPrice float64   `json:"latest_price"`
	Data        []BarView `json:"data"`
}

// NewMarketDataView shapes a history. bars must not be empty.
func NewMarketDataView(ticker, period string, bars []domain.Bar) MarketDataView {
	data := make([]BarView, len(bars))
	for i, b := range bars {
		data[i] = BarView{
			Date:   b.Timestamp.Format(DateLayout),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}
	return MarketDataView{
		Ticker:     ticker,
		Period:     period,
		DataPoints: len(bars),
		DateRange: DateRange{
			Start: data[0].Date,
			End:   data[len(data)-1].Date,
		},
		LatestPrice: bars[len(bars)-1].Close,
		Data:        data,
	}
}

// StrategyView describes one registered strategy.
type StrategyView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// StrategiesView is the response body of a strategy listing, keyed by name.
type StrategiesView struct {
	Strategies map[string]StrategyView `json:"strategies"`
}

// NewStrategiesView converts a registry listing.
func NewStrategiesView(infos []strategy.Info) StrategiesView {
	out := StrategiesView{Strategies: make(map[string]StrategyView, len(infos))}
	for _, info := range infos {
		out.Strategies[info.Name] = StrategyView{Name: info.Name, Description: info.Description}
	}
	return out
}

// PriceView is the response body of a latest price request.
type PriceView struct {
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// NewPriceView stamps a price with the time it was read.
func NewPriceView(ticker string, price float64, at time.Time) PriceView {
	return PriceView{Ticker: ticker, Price: price, Timestamp: at.UTC().Format(time.RFC3339)}
}

// RunView is a stored run on the wire.
type RunView struct {
	ID             string             `json:"id"`
	Ticker         string             `json:"ticker"`
	Strategy       string             `json:"strategy"`
	Description    string             `json:"description"`
	Params         json.RawMessage    `json:"strategy_params,omitempty"`
	InitialCapital float64            `json:"initial_capital"`
	Commission     float64            `json:"commission"`
	PositionSize   float64            `json:"position_size"`
	FinalEquity    float64            `json:"final_equity"`
	Metrics        MetricsView        `json:"metrics"`
	DataPoints     int                `json:"data_points"`
	TradeCount     int                `json:"trade_count"`
	DateRange      DateRange          `json:"date_range"`
	CreatedAt      string             `json:"created_at"`
	EquityCurve    map[string]float64 `json:"equity_curve,omitempty"`
}

// NewRunView converts a stored run. equity may be nil.
func NewRunView(r *store.Run, equity []backtest.Point) RunView {
	v := RunView{
		ID:             r.ID,
		Ticker:         r.Ticker,
		Strategy:       r.Strategy,
		Description:    r.Description,
		Params:         r.Params,
		InitialCapital: r.Options.InitialCapital,
		Commission:     r.Options.Commission,
		PositionSize:   r.Options.PositionSize,
		FinalEquity:    Round2(r.FinalEquity),
		Metrics:        NewMetricsView(r.Metrics),
		DataPoints:     r.NumBars,
		TradeCount:     r.NumTrades,
		DateRange:      DateRange{Start: r.Start.Format(DateLayout), End: r.End.Format(DateLayout)},
		CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if len(equity) > 0 {
		v.EquityCurve = EquityCurve(equity)
	}
	return v
}
