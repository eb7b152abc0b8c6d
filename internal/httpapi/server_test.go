package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"io"
	"math"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"openalpha/internal/backtest"
	"openalpha/internal/domain"
	"openalpha/internal/engine"
	"openalpha/internal/marketdata"
	"openalpha/internal/metrics"
	"openalpha/internal/report"
	"openalpha/internal/store"
	"openalpha/internal/strategy"
	"openalpha/internal/strategy/builtins"
)

type stubProvider struct {
	err error
}

func (p *stubProvider) History(_ context.Context, req marketdata.Request) ([]domain.Bar, error) {
	if p.err != nil {
		return nil, p.err
	}
	closes := []float64{100, 102, 101, 104, 103, 107}
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Symbol: req.Ticker, Timestamp: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return bars, nil
}

func (p *stubProvider) LatestPrice(context.Context, string) (float64, error) {
	if p.err != nil {
		return 0, p.err
	}
	return 107, nil
}

func newTestEngine(t *testing.T, p marketdata.Provider) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	runs, err := store.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runs.Close() })

	defaults := engine.Defaults{
		Strategy: "sma",
		Period:   "1y",
		Params:   strategy.DefaultParams(),
		Options:  backtest.DefaultOptions(100000),
	}
	return engine.NewEngine(p, builtins.NewRegistry(), runs, store.NewParquetStore(dir), &engine.Limits{MaxCompare: 3}, defaults)
}

func newTestServer(t *testing.T, p marketdata.Provider) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(newTestEngine(t, p), []string{"http://localhost:3000"}, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	got := decode[map[string]string](t, resp)
	if got["status"] != "running" || got["message"] != "OpenAlpha Trading API" {
		t.Errorf("GET / = %v, want running OpenAlpha Trading API", got)
	}
}

func TestStrategies(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})
	resp, err := http.Get(srv.URL + "/strategies")
	if err != nil {
		t.Fatal(err)
	}
	got := decode[report.StrategiesView](t, resp)
	for _, name := range []string{"sma", "momentum", "buy_hold"} {
		if _, ok := got.Strategies[name]; !ok {
			t.Errorf("strategies missing %q: %v", name, got.Strategies)
		}
	}
}

func TestBacktest(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})
	resp := post(t, srv.URL+"/backtest", `{"ticker":"aapl","strategy":"buy_hold","initial_capital":1000,"commission":0}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[report.BacktestView](t, resp)
	if got.Ticker != "AAPL" || got.Strategy != "buy_hold" {
		t.Errorf("got %s/%s, want AAPL/buy_hold", got.Ticker, got.Strategy)
	}
	if len(got.EquityCurve) != 6 || len(got.Trades) != 1 {
		t.Errorf("got %d equity points and %d trades, want 6 and 1", len(got.EquityCurve), len(got.Trades))
	}
	// 1000 * 107/100 with no commission.
	if got.FinalEquity != 1070 {
		t.Errorf("final_equity = %v, want 1070", got.FinalEquity)
	}
	if got.Metrics.TotalReturn != 7 {
		t.Errorf("total_return = %v, want 7 (percent)", got.Metrics.TotalReturn)
	}
	if got.RunID == "" {
		t.Error("run_id is empty")
	}

	runResp, err := http.Get(srv.URL + "/runs/" + got.RunID)
	if err != nil {
		t.Fatal(err)
	}
	run := decode[report.RunView](t, runResp)
	if run.Ticker != "AAPL" || len(run.EquityCurve) != 6 {
		t.Errorf("stored run = %s with %d equity points, want AAPL with 6", run.Ticker, len(run.EquityCurve))
	}
}

func TestBacktestErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider *stubProvider
		body     string
		want     int
	}{
		{"malformed body", &stubProvider{}, `{"ticker":`, http.StatusBadRequest},
		{"empty body", &stubProvider{}, ``, http.StatusBadRequest},
		{"unknown strategy", &stubProvider{}, `{"ticker":"A","strategy":"martingale"}`, http.StatusBadRequest},
		{"bad param", &stubProvider{}, `{"ticker":"A","strategy":"sma","strategy_params":{"fast_window":0}}`, http.StatusBadRequest},
		{"bad date", &stubProvider{}, `{"ticker":"A","start":"01/02/2024"}`, http.StatusBadRequest},
		{"no data", &stubProvider{err: marketdata.ErrNoData}, `{"ticker":"A"}`, http.StatusNotFound},
		{"upstream", &stubProvider{err: errors.New("timeout")}, `{"ticker":"A"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.provider)
			resp := post(t, srv.URL+"/backtest", tt.body)
			got := decode[map[string]string](t, resp)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (error %q)", resp.StatusCode, tt.want, got["error"])
			}
			if got["error"] == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestCompare(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})
	resp := post(t, srv.URL+"/compare", `{"ticker":"SPY","strategies":["momentum","buy_hold"],"strategy_params":{"lookback_period":2}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[struct {
		Results []report.BacktestView `json:"results"`
	}](t, resp)
	if len(got.Results) != 2 || got.Results[0].Strategy != "momentum" || got.Results[1].Strategy != "buy_hold" {
		t.Errorf("results = %+v, want momentum then buy_hold", got.Results)
	}

	resp = post(t, srv.URL+"/compare", `{"ticker":"SPY","strategies":["sma","sma","sma","sma"]}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("over-limit compare status = %d, want 400", resp.StatusCode)
	}
}

func TestMarketData(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})
	resp, err := http.Get(srv.URL + "/market-data/msft?period=3mo")
	if err != nil {
		t.Fatal(err)
	}
	got := decode[report.MarketDataView](t, resp)
	if got.Ticker != "MSFT" || got.Period != "3mo" || got.DataPoints != 6 {
		t.Errorf("got %s/%s with %d points, want MSFT/3mo with 6", got.Ticker, got.Period, got.DataPoints)
	}
	if got.LatestPrice != 107 || got.DateRange.Start != "2024-01-02" {
		t.Errorf("latest %v from %s, want 107 from 2024-01-02", got.LatestPrice, got.DateRange.Start)
	}
}

func TestPrice(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})
	resp, err := http.Get(srv.URL + "/price/qqq")
	if err != nil {
		t.Fatal(err)
	}
	got := decode[report.PriceView](t, resp)
	if got.Ticker != "QQQ" || got.Price != 107 {
		t.Errorf("got %s at %v, want QQQ at 107", got.Ticker, got.Price)
	}
}

func TestRunsList(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})
	for _, tk := range []string{"AAPL", "MSFT"} {
		post(t, srv.URL+"/backtest", `{"ticker":"`+tk+`","strategy":"buy_hold"}`).Body.Close()
	}
	resp, err := http.Get(srv.URL + "/runs?ticker=msft")
	if err != nil {
		t.Fatal(err)
	}
	got := decode[struct {
		Runs []report.RunView `json:"runs"`
	}](t, resp)
	if len(got.Runs) != 1 || got.Runs[0].Ticker != "MSFT" {
		t.Errorf("runs = %+v, want one MSFT run", got.Runs)
	}

	resp, err = http.Get(srv.URL + "/runs?limit=-1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a negative limit", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/runs/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for a missing run", resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/backtest", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q, want http://localhost:3000", got)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for a foreign origin, want empty", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&strategy.ConfigError{Err: strategy.ErrUnknownStrategy}, http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{engine.ErrNoRunStore, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	e := newTestEngine(t, &stubProvider{})
	e.SetObserver(m)
	srv := httptest.NewServer(NewServer(e, nil, nil).WithMetrics(m).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/strategies")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	resp = post(t, srv.URL+"/backtest", `{"ticker":"AAPL","strategy":"buy_hold"}`)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`openalpha_http_requests_total{code="200",route="GET /strategies"} 1`,
		`openalpha_http_requests_total{code="200",route="POST /backtest"} 1`,
		`openalpha_backtests_total{result="ok",strategy="buy_hold"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("GET /metrics missing %q", want)
		}
	}
}

func TestWriteJSONEncodingFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, map[string]float64{"bad": math.Inf(1)})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body %q is not JSON: %v", rec.Body.String(), err)
	}
	if !strings.Contains(body["error"], "encoding response") {
		t.Errorf("error = %q, want an encoding error message", body["error"])
	}
}

func TestBacktestExplosiveGrowthEncodes(t *testing.T) {
	srv := newTestServer(t, &jumpProvider{})
	resp := post(t, srv.URL+"/backtest", `{"ticker":"X","strategy":"buy_hold"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[map[string]any](t, resp)
	metrics, ok := got["metrics"].(map[string]any)
	if !ok {
		t.Fatalf("metrics = %v, want an object", got["metrics"])
	}
	if v, ok := metrics["annual_return"].(float64); !ok || math.IsInf(v, 0) {
		t.Errorf("annual_return = %v, want a finite number", metrics["annual_return"])
	}
}

// jumpProvider serves a two-bar history that grows 2000x.
type jumpProvider struct{}

func (jumpProvider) History(_ context.Context, req marketdata.Request) ([]domain.Bar, error) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return []domain.Bar{
		{Symbol: req.Ticker, Timestamp: start, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{Symbol: req.Ticker, Timestamp: start.AddDate(0, 0, 1), Open: 2000, High: 2000, Low: 2000, Close: 2000, Volume: 1},
	}, nil
}

func (jumpProvider) LatestPrice(context.Context, string) (float64, error) { return 2000, nil }
