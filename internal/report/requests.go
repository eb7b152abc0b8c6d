package report

import (
	"fmt"
	"time"

	"openalpha/internal/engine"
)

// BacktestRequest is the wire form of a backtest request shared by the HTTP
// and gRPC front ends. Dates are YYYY-MM-DD and override period when set.
type BacktestRequest struct {
	Ticker         string         `json:"ticker"`
	Strategy       string         `json:"strategy"`
	Period         string         `json:"period,omitempty"`
	Start          string         `json:"start,omitempty"`
	End            string         `json:"end,omitempty"`
	InitialCapital *float64       `json:"initial_capital,omitempty"`
	Commission     *float64       `json:"commission,omitempty"`
	PositionSize   *float64       `json:"position_size,omitempty"`
	StrategyParams map[string]any `json:"strategy_params,omitempty"`
}

// EngineRequest converts the wire request, parsing its dates.
func (b BacktestRequest) EngineRequest() (engine.Request, error) {
	req := engine.Request{
		Ticker:         b.Ticker,
		Strategy:       b.Strategy,
		Period:         b.Period,
		StrategyParams: b.StrategyParams,
		InitialCapital: b.InitialCapital,
		Commission:     b.Commission,
		PositionSize:   b.PositionSize,
	}
	var err error
	if req.Start, err = parseDate("start", b.Start); err != nil {
		return req, err
	}
	if req.End, err = parseDate("end", b.End); err != nil {
		return req, err
	}
	return req, nil
}

// CompareRequest runs several strategies over one history.
type CompareRequest struct {
	BacktestRequest
	Strategies []string `json:"strategies"`
}

// CompareView is the response to a CompareRequest.
type CompareView struct {
	Results []BacktestView `json:"results"`
}

// NewBacktestViewFromOutcome shapes an engine outcome.
func NewBacktestViewFromOutcome(out *engine.Outcome) BacktestView {
	return NewBacktestView(BacktestInput{
		RunID:      out.RunID,
		Ticker:     out.Ticker,
		Period:     out.Period,
		Params:     out.Params,
		DataPoints: out.Bars,
	}, out.Result)
}

// NewCompareView shapes the outcomes of a comparison.
func NewCompareView(outs []*engine.Outcome) CompareView {
	v := CompareView{Results: make([]BacktestView, len(outs))}
	for i, out := range outs {
		v.Results[i] = NewBacktestViewFromOutcome(out)
	}
	return v
}

func parseDate(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s date %q, want YYYY-MM-DD", field, v)
	}
	return t, nil
}
