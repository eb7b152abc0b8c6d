package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"openalpha/internal/config"
	"openalpha/internal/domain"
	"openalpha/internal/store"
)

type countingProvider struct {
	calls atomic.Int64
	err   error
	delay time.Duration
}

func (p *countingProvider) History(_ context.Context, req Request) ([]domain.Bar, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	return dailyBars(req.Ticker, 1, 2, 3), nil
}

func (p *countingProvider) LatestPrice(context.Context, string) (float64, error) {
	return 42, nil
}

func TestCachedProviderHit(t *testing.T) {
	next := &countingProvider{}
	c := NewCachedProvider(next, 4, 0)
	ctx := context.Background()

	first, err := c.History(ctx, Request{Ticker: "AAPL", Period: "1y"})
	if err != nil {
		t.Fatal(err)
	}
	// Ticker case and the default period fold into the same key.
	second, err := c.History(ctx, Request{Ticker: "aapl"})
	if err != nil {
		t.Fatal(err)
	}
	if n := next.calls.Load(); n != 1 {
		t.Errorf("underlying provider called %d times, want 1", n)
	}
	if len(second) != len(first) {
		t.Errorf("cached history has %d bars, want %d", len(second), len(first))
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("Stats() = %d hits, %d misses; want 1, 1", hits, misses)
	}
}

func TestCachedProviderReturnsCopies(t *testing.T) {
	c := NewCachedProvider(&countingProvider{}, 4, 0)
	ctx := context.Background()

	first, _ := c.History(ctx, Request{Ticker: "AAPL"})
	first[0].Close = -1

	second, _ := c.History(ctx, Request{Ticker: "AAPL"})
	if second[0].Close != 1 {
		t.Errorf("cached close = %v after caller mutation, want 1", second[0].Close)
	}
}

func TestCachedProviderEvictsLeastRecent(t *testing.T) {
	next := &countingProvider{}
	c := NewCachedProvider(next, 2, 0)
	ctx := context.Background()

	for _, tk := range []string{"A", "B", "A", "C"} {
		if _, err := c.History(ctx, Request{Ticker: tk}); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	// B was least recently used.
	before := next.calls.Load()
	c.History(ctx, Request{Ticker: "A"})
	if next.calls.Load() != before {
		t.Error("A was evicted, want it kept")
	}
	c.History(ctx, Request{Ticker: "B"})
	if next.calls.Load() != before+1 {
		t.Error("B was still cached, want it evicted")
	}
}

func TestCachedProviderTTL(t *testing.T) {
	next := &countingProvider{}
	c := NewCachedProvider(next, 4, time.Hour)
	now := refNow
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.History(ctx, Request{Ticker: "AAPL"})
	now = now.Add(30 * time.Minute)
	c.History(ctx, Request{Ticker: "AAPL"})
	if n := next.calls.Load(); n != 1 {
		t.Errorf("calls within TTL = %d, want 1", n)
	}
	now = now.Add(2 * time.Hour)
	c.History(ctx, Request{Ticker: "AAPL"})
	if n := next.calls.Load(); n != 2 {
		t.Errorf("calls after TTL = %d, want 2", n)
	}
}

func TestCachedProviderErrorsNotCached(t *testing.T) {
	next := &countingProvider{err: ErrNoData}
	c := NewCachedProvider(next, 4, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.History(ctx, Request{Ticker: "NONE"}); !errors.Is(err, ErrNoData) {
			t.Fatalf("History error = %v, want ErrNoData", err)
		}
	}
	if n := next.calls.Load(); n != 2 {
		t.Errorf("underlying provider called %d times, want 2", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after errors, want 0", c.Len())
	}
}

func TestCachedProviderCollapsesConcurrentMisses(t *testing.T) {
	next := &countingProvider{delay: 20 * time.Millisecond}
	c := NewCachedProvider(next, 4, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.History(context.Background(), Request{Ticker: "AAPL"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if n := next.calls.Load(); n != 1 {
		t.Errorf("underlying provider called %d times for concurrent misses, want 1", n)
	}
}

func TestCachedProviderLatestPriceNotCached(t *testing.T) {
	c := NewCachedProvider(&countingProvider{}, 1, 0)
	price, err := c.LatestPrice(context.Background(), "AAPL")
	if err != nil || price != 42 {
		t.Errorf("LatestPrice = %v, %v; want 42, nil", price, err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestNewFromConfig(t *testing.T) {
	md := config.MarketDataConfig{Source: SourceStore, CacheSize: 8}
	p, err := NewFromConfig(md, config.Alpaca{}, store.NewParquetStore(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	c, ok := p.(*CachedProvider)
	if !ok {
		t.Fatalf("provider is %T, want *CachedProvider", p)
	}
	if _, ok := c.next.(*StoreProvider); !ok {
		t.Errorf("cached provider wraps %T, want *StoreProvider", c.next)
	}

	md.CacheSize = 0
	md.Source = SourceAlpaca
	p, err = NewFromConfig(md, config.Alpaca{APIKey: "k", APISecret: "s"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*AlpacaProvider); !ok {
		t.Errorf("provider is %T, want *AlpacaProvider", p)
	}

	if _, err := NewFromConfig(config.MarketDataConfig{Source: SourceStore}, config.Alpaca{}, nil); err == nil {
		t.Error("store source without a bar store returned nil error")
	}
	if _, err := NewFromConfig(config.MarketDataConfig{Source: "yahoo"}, config.Alpaca{}, nil); err == nil {
		t.Error("unknown source returned nil error")
	}
}

// blockingProvider holds History until release is closed, honouring ctx.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingProvider) History(ctx context.Context, req Request) ([]domain.Bar, error) {
	p.once.Do(func() { close(p.started) })
	select {
	case <-p.release:
		return dailyBars(req.Ticker, 1, 2), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *blockingProvider) LatestPrice(context.Context, string) (float64, error) {
	return 0, nil
}

func TestCachedProviderCancelledCallerDoesNotFailOthers(t *testing.T) {
	next := &blockingProvider{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCachedProvider(next, 4, 0)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.History(ctxA, Request{Ticker: "AAPL"})
		errA <- err
	}()
	<-next.started

	type result struct {
		bars []domain.Bar
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		bars, err := c.History(context.Background(), Request{Ticker: "AAPL"})
		resB <- result{bars, err}
	}()

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller error = %v, want context.Canceled", err)
	}

	// Give B time to join the in-flight fetch before it completes.
	time.Sleep(20 * time.Millisecond)
	close(next.release)

	select {
	case r := <-resB:
		if r.err != nil {
			t.Fatalf("uncancelled caller returned error: %v", r.err)
		}
		if len(r.bars) != 2 {
			t.Errorf("uncancelled caller got %d bars, want 2", len(r.bars))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("uncancelled caller did not return")
	}
}
