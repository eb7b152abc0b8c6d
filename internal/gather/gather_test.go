package gather

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"openalpha/internal/domain"
	"openalpha/internal/marketdata"
	"openalpha/internal/store"
)

// fakeProvider serves one bar per day in the requested range, except for
// symbols listed in missing or failing.
type fakeProvider struct {
	mu       sync.Mutex
	requests []marketdata.Request
	missing  map[string]bool
	failing  map[string]bool
}

func (p *fakeProvider) History(_ context.Context, req marketdata.Request) ([]domain.Bar, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.failing[req.Ticker] {
		return nil, errors.New("upstream down")
	}
	if p.missing[req.Ticker] {
		return nil, marketdata.ErrNoData
	}
	var bars []domain.Bar
	for d := req.Start; !d.After(req.End); d = d.AddDate(0, 0, 1) {
		bars = append(bars, domain.Bar{Symbol: req.Ticker, Timestamp: d, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	}
	if len(bars) == 0 {
		return nil, marketdata.ErrNoData
	}
	return bars, nil
}

func (p *fakeProvider) LatestPrice(context.Context, string) (float64, error) { return 1, nil }

func (p *fakeProvider) requestFor(ticker string) (marketdata.Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.requests) - 1; i >= 0; i-- {
		if p.requests[i].Ticker == ticker {
			return p.requests[i], true
		}
	}
	return marketdata.Request{}, false
}

func newTestGatherer(t *testing.T, p marketdata.Provider, s store.BarStore, symbols []string, progressDir string, now time.Time) *DailyBarGatherer {
	t.Helper()
	g, err := NewDailyBarGatherer(p, s, symbols, 2, "2024-01-01", progressDir)
	if err != nil {
		t.Fatalf("NewDailyBarGatherer: %v", err)
	}
	g.now = func() time.Time { return now }
	return g
}

func TestDailyBarGathererName(t *testing.T) {
	g, err := NewDailyBarGatherer(&fakeProvider{}, nil, []string{"aapl", "AAPL", " msft "}, 4, "2020-01-01", "")
	if err != nil {
		t.Fatal(err)
	}
	if got := g.Name(); got != "daily-bars" {
		t.Errorf("Name() = %q, want %q", got, "daily-bars")
	}
	if got := g.Symbols(); len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
		t.Errorf("Symbols() = %v, want [AAPL MSFT]", got)
	}

	if _, err := NewDailyBarGatherer(&fakeProvider{}, nil, nil, 1, "01/02/2020", ""); err == nil {
		t.Error("NewDailyBarGatherer accepted a malformed start date")
	}
}

func TestDailyBarGathererIncremental(t *testing.T) {
	dir := t.TempDir()
	ps := store.NewParquetStore(dir)
	p := &fakeProvider{}
	ctx := context.Background()

	day1 := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	g := newTestGatherer(t, p, ps, []string{"AAPL"}, "", day1)

	sum, err := g.Gather(ctx)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if sum.Updated != 1 || sum.Bars != 10 {
		t.Errorf("first pass = %+v, want 1 symbol with 10 bars", sum)
	}

	// The next pass only asks for days after the last stored bar.
	g.now = func() time.Time { return day1.AddDate(0, 0, 3) }
	sum, err = g.Gather(ctx)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if sum.Bars != 3 {
		t.Errorf("second pass wrote %d bars, want 3", sum.Bars)
	}
	req, _ := p.requestFor("AAPL")
	if want := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC); !req.Start.Equal(want) {
		t.Errorf("second pass start = %v, want %v", req.Start, want)
	}

	// Nothing left to fetch.
	sum, err = g.Gather(ctx)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if sum.Current != 1 || sum.Updated != 0 {
		t.Errorf("third pass = %+v, want the symbol current", sum)
	}

	bars, err := ps.ReadBars(ctx, "AAPL", domain.MarketUS, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 13 {
		t.Errorf("store holds %d bars, want 13", len(bars))
	}
}

func TestDailyBarGathererCountsFailures(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	p := &fakeProvider{missing: map[string]bool{"GONE": true}, failing: map[string]bool{"BAD": true}}
	progressDir := t.TempDir()

	g := newTestGatherer(t, p, ps, []string{"AAPL", "GONE", "BAD"}, progressDir, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	var observed []Summary
	g.OnPass(func(s Summary) { observed = append(observed, s) })
	sum, err := g.Gather(context.Background())
	if err == nil {
		t.Fatal("Gather returned nil error with a failing symbol")
	}
	if len(observed) != 1 || observed[0] != sum {
		t.Errorf("OnPass saw %+v, want one call with %+v", observed, sum)
	}
	if sum.Updated != 1 || sum.Empty != 1 || sum.Failed != 1 {
		t.Errorf("Summary = %+v, want 1 updated, 1 empty, 1 failed", sum)
	}
	if _, err := os.Stat(filepath.Join(progressDir, ".last-completed")); !os.IsNotExist(err) {
		t.Error("a failed pass was marked completed")
	}
}

func TestDailyBarGathererIdempotentWithinDay(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	p := &fakeProvider{}
	progressDir := t.TempDir()
	now := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	g := newTestGatherer(t, p, ps, []string{"AAPL", "MSFT"}, progressDir, now)
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := len(p.requests)

	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(p.requests) != calls {
		t.Errorf("second run on the same day made %d requests, want 0", len(p.requests)-calls)
	}
	if got := newProgress(progressDir).LastCompleted(); got != "2024-01-05" {
		t.Errorf("LastCompleted() = %q, want 2024-01-05", got)
	}
}

func TestLoadSymbols(t *testing.T) {
	dir := t.TempDir()

	withHeader := filepath.Join(dir, "universe.csv")
	os.WriteFile(withHeader, []byte("name,symbol\nApple,aapl\n# comment\nMicrosoft,MSFT\nApple again,AAPL\n"), 0o644)
	got, err := LoadSymbols(withHeader)
	if err != nil {
		t.Fatalf("LoadSymbols: %v", err)
	}
	if len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
		t.Errorf("LoadSymbols(header) = %v, want [AAPL MSFT]", got)
	}

	plain := filepath.Join(dir, "plain.txt")
	os.WriteFile(plain, []byte("spy\nqqq\n"), 0o644)
	got, err = LoadSymbols(plain)
	if err != nil {
		t.Fatalf("LoadSymbols: %v", err)
	}
	if len(got) != 2 || got[0] != "SPY" || got[1] != "QQQ" {
		t.Errorf("LoadSymbols(plain) = %v, want [SPY QQQ]", got)
	}

	if _, err := LoadSymbols(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("LoadSymbols(missing) returned nil error")
	}
}

type countingGatherer struct {
	mu   sync.Mutex
	runs int
}

func (c *countingGatherer) Name() string { return "counting" }
func (c *countingGatherer) Run(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	return errors.New("always fails")
}

func TestRunEvery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	g := &countingGatherer{}
	if err := RunEvery(ctx, g, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunEvery returned %v, want context.DeadlineExceeded", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.runs < 2 {
		t.Errorf("gatherer ran %d times, want at least 2", g.runs)
	}
}
