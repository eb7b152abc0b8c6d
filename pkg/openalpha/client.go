// Package openalpha is a Go client for the openalpha-server HTTP API.
package openalpha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the openalpha-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new openalpha API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openalpha: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// BacktestRequest describes one backtest. Nil pointers take the server
// defaults.
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

// Metrics holds percentages except SharpeRatio, which is a plain ratio.
type Metrics struct {
	TotalReturn  float64 `json:"total_return"`
	AnnualReturn float64 `json:"annual_return"`
	Volatility   float64 `json:"volatility"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	NumTrades    int     `json:"num_trades"`
}

// Trade is one trade log entry.
type Trade struct {
	Date     string  `json:"date"`
	Signal   int     `json:"signal"`
	Price    float64 `json:"price"`
	Position float64 `json:"position"`
}

// BacktestResult is the outcome of a backtest.
type BacktestResult struct {
	RunID          string             `json:"run_id,omitempty"`
	Ticker         string             `json:"ticker"`
	Strategy       string             `json:"strategy"`
	Description    string             `json:"description"`
	Period         string             `json:"period,omitempty"`
	StrategyParams map[string]any     `json:"strategy_params"`
	InitialCapital float64            `json:"initial_capital"`
	FinalEquity    float64            `json:"final_equity"`
	DataPoints     int                `json:"data_points"`
	Metrics        Metrics            `json:"metrics"`
	EquityCurve    map[string]float64 `json:"equity_curve"`
	Trades         []Trade            `json:"trades"`
}

// Strategy describes a strategy the server can run.
type Strategy struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Bar is one day of OHLCV data.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// MarketData is a daily price history.
type MarketData struct {
	Ticker     string `json:"ticker"`
	Period     string `json:"period"`
	DataPoints int    `json:"data_points"`
	DateRange  struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"date_range"`
	LatestPrice float64 `json:"latest_price"`
	Data        []Bar   `json:"data"`
}

// Price is the latest price of a ticker.
type Price struct {
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// Run is a backtest recorded by the server.
type Run struct {
	ID             string          `json:"id"`
	Ticker         string          `json:"ticker"`
	Strategy       string          `json:"strategy"`
	Description    string          `json:"description"`
	StrategyParams json.RawMessage `json:"strategy_params,omitempty"`
	InitialCapital float64         `json:"initial_capital"`
	Commission     float64         `json:"commission"`
	PositionSize   float64         `json:"position_size"`
	FinalEquity    float64         `json:"final_equity"`
	Metrics        Metrics         `json:"metrics"`
	DataPoints     int             `json:"data_points"`
	TradeCount     int             `json:"trade_count"`
	CreatedAt      string          `json:"created_at"`
	// EquityCurve is only populated by Client.Run.
	EquityCurve map[string]float64 `json:"equity_curve,omitempty"`
}

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

// RunBacktest runs one backtest.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	var out BacktestResult
	if err := c.do(ctx, http.MethodPost, "/backtest", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compare runs several strategies over one history.
func (c *Client) Compare(ctx context.Context, req BacktestRequest, strategies []string) ([]BacktestResult, error) {
	body := struct {
		BacktestRequest
		Strategies []string `json:"strategies"`
	}{req, strategies}
	var out struct {
		Results []BacktestResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/compare", body, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Strategies lists the available strategies keyed by name.
func (c *Client) Strategies(ctx context.Context) (map[string]Strategy, error) {
	var out struct {
		Strategies map[string]Strategy `json:"strategies"`
	}
	if err := c.do(ctx, http.MethodGet, "/strategies", nil, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// MarketData fetches the daily history of ticker. An empty period uses the
// server default.
func (c *Client) MarketData(ctx context.Context, ticker, period string) (*MarketData, error) {
	path := "/market-data/" + url.PathEscape(ticker)
	if period != "" {
		path += "?" + url.Values{"period": {period}}.Encode()
	}
	var out MarketData
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Price fetches the latest price of ticker.
func (c *Client) Price(ctx context.Context, ticker string) (*Price, error) {
	var out Price
	if err := c.do(ctx, http.MethodGet, "/price/"+url.PathEscape(ticker), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Runs lists recorded runs, newest first. ticker may be empty.
func (c *Client) Runs(ctx context.Context, ticker string, limit int) ([]Run, error) {
	q := url.Values{}
	if ticker != "" {
		q.Set("ticker", ticker)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Runs []Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// Run fetches one recorded run with its equity curve.
func (c *Client) Run(ctx context.Context, id string) (*Run, error) {
	var out Run
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
