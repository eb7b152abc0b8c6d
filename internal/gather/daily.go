package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"openalpha/internal/domain"
	"openalpha/internal/marketdata"
	"openalpha/internal/store"
)

var _ Gatherer = (*DailyBarGatherer)(nil)

// DailyBarGatherer keeps daily bars for a fixed symbol list up to date in a
// BarStore. Each pass fetches only the days after the last stored bar, so
// it is resumable and idempotent within a day.
type DailyBarGatherer struct {
	provider   marketdata.Provider
	store      store.BarStore
	market     domain.Market
	symbols    []string
	maxWorkers int
	startDate  time.Time
	progress   *progress
	onPass     func(Summary)
	now        func() time.Time
	log        *slog.Logger
}

// Summary counts the outcome of one pass.
type Summary struct {
	Updated int64
	Bars    int64
	Current int64
	Empty   int64
	Failed  int64
}

// NewDailyBarGatherer creates a gatherer writing symbols' bars from p into s.
// startDate (YYYY-MM-DD) bounds the history fetched for a symbol with no
// stored bars. progressDir holds the completion marker; "" disables it.
func NewDailyBarGatherer(p marketdata.Provider, s store.BarStore, symbols []string, maxWorkers int, startDate, progressDir string) (*DailyBarGatherer, error) {
	start, err := time.Parse(time.DateOnly, startDate)
	if err != nil {
		return nil, fmt.Errorf("parsing start date %q: %w", startDate, err)
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &DailyBarGatherer{
		provider:   p,
		store:      s,
		market:     domain.MarketUS,
		symbols:    normalizeSymbols(symbols),
		maxWorkers: maxWorkers,
		startDate:  start,
		progress:   newProgress(progressDir),
		now:        time.Now,
		log:        slog.Default().With("gatherer", "daily-bars"),
	}, nil
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "daily-bars" }

// Symbols returns the symbols gathered on each pass.
func (g *DailyBarGatherer) Symbols() []string {
	return append([]string(nil), g.symbols...)
}

// Run performs one pass over every symbol.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	_, err := g.Gather(ctx)
	return err
}

// Gather performs one pass and reports what it did. A failure for one symbol
// is logged and counted without stopping the others.
func (g *DailyBarGatherer) Gather(ctx context.Context) (Summary, error) {
	end := truncateDay(g.now().UTC())
	endStr := end.Format(time.DateOnly)

	if g.progress.IsCompleted(endStr) {
		g.log.Info("already completed", "endDate", endStr)
		return Summary{}, nil
	}

	g.log.Info("starting pass", "endDate", endStr, "symbols", len(g.symbols), "workers", g.maxWorkers)

	symCh := make(chan string, len(g.symbols))
	for _, sym := range g.symbols {
		symCh <- sym
	}
	close(symCh)

	var (
		wg       sync.WaitGroup
		updated  atomic.Int64
		bars     atomic.Int64
		current  atomic.Int64
		empty    atomic.Int64
		failed   atomic.Int64
		runStart = time.Now()
	)

	workers := min(g.maxWorkers, len(g.symbols))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symCh {
				if ctx.Err() != nil {
					return
				}
				n, err := g.gatherSymbol(ctx, sym, end)
				switch {
				case errors.Is(err, errUpToDate):
					current.Add(1)
				case errors.Is(err, marketdata.ErrNoData):
					empty.Add(1)
				case err != nil:
					failed.Add(1)
					g.log.Error("symbol failed", "symbol", sym, "err", err)
				default:
					updated.Add(1)
					bars.Add(int64(n))
					g.log.Debug("symbol done", "symbol", sym, "bars", n)
				}
			}
		}()
	}
	wg.Wait()

	sum := Summary{
		Updated: updated.Load(),
		Bars:    bars.Load(),
		Current: current.Load(),
		Empty:   empty.Load(),
		Failed:  failed.Load(),
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}

	if sum.Failed == 0 {
		if err := g.progress.MarkCompleted(endStr); err != nil {
			return sum, fmt.Errorf("marking completed: %w", err)
		}
	}

	if g.onPass != nil {
		g.onPass(sum)
	}
	g.log.Info("complete",
		"updated", sum.Updated,
		"bars", sum.Bars,
		"current", sum.Current,
		"empty", sum.Empty,
		"failed", sum.Failed,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	if sum.Failed > 0 {
		return sum, fmt.Errorf("%d of %d symbols failed", sum.Failed, len(g.symbols))
	}
	return sum, nil
}

// OnPass registers fn to receive the Summary of every pass that runs to
// completion.
func (g *DailyBarGatherer) OnPass(fn func(Summary)) {
	g.onPass = fn
}

var errUpToDate = errors.New("up to date")

// Range returns the days still to fetch for symbol ending at end.
func (g *DailyBarGatherer) Range(ctx context.Context, symbol string, end time.Time) (DateRange, error) {
	last, err := g.store.LastBarDate(ctx, symbol, g.market)
	if err != nil {
		return DateRange{}, err
	}
	start := g.startDate
	if !last.IsZero() {
		start = truncateDay(last.UTC()).AddDate(0, 0, 1)
	}
	return DateRange{Start: start, End: end}, nil
}

func (g *DailyBarGatherer) gatherSymbol(ctx context.Context, symbol string, end time.Time) (int, error) {
	r, err := g.Range(ctx, symbol, end)
	if err != nil {
		return 0, err
	}
	if r.Empty() {
		return 0, errUpToDate
	}

	bars, err := g.provider.History(ctx, marketdata.Request{Ticker: symbol, Start: r.Start, End: r.End})
	if err != nil {
		return 0, err
	}
	if err := g.store.WriteBars(ctx, g.market, bars); err != nil {
		return 0, fmt.Errorf("writing bars: %w", err)
	}
	return len(bars), nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
