package marketdata

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"openalpha/internal/domain"
)

// FetchTimeout bounds a shared upstream fetch. The fetch outlives any single
// caller's context, so it needs its own deadline.
const FetchTimeout = 2 * time.Minute

// Compile-time interface check.
var _ Provider = (*CachedProvider)(nil)

// CachedProvider is a read-through LRU cache over another Provider's
// History. Entries are keyed by the request as given, so a period-based
// request is served from cache until evicted or until its TTL expires.
// Callers always receive their own copy of the cached bars.
//
// LatestPrice is never cached.
type CachedProvider struct {
	next     Provider
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	group singleflight.Group

	hits, misses int64
}

type cacheEntry struct {
	key     string
	bars    []domain.Bar
	fetched time.Time
}

// NewCachedProvider wraps next with a cache holding up to capacity requests.
// ttl <= 0 keeps entries until evicted.
func NewCachedProvider(next Provider, capacity int, ttl time.Duration) *CachedProvider {
	if capacity < 1 {
		capacity = 1
	}
	return &CachedProvider{
		next:     next,
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func cacheKey(req Request) string {
	var start, end string
	if !req.Start.IsZero() {
		start = req.Start.Format(time.DateOnly)
	}
	if !req.End.IsZero() {
		end = req.End.Format(time.DateOnly)
	}
	return fmt.Sprintf("%s_%s_%s_%s", req.Ticker, req.Period, start, end)
}

// History returns cached bars for req or fetches and caches them. Errors are
// not cached. Concurrent misses for one key share a fetch; a caller whose
// ctx ends stops waiting without cancelling the fetch for the others.
func (c *CachedProvider) History(ctx context.Context, req Request) ([]domain.Bar, error) {
	req = req.Normalized()
	key := cacheKey(req)

	if bars, ok := c.get(key); ok {
		return bars, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		if bars, ok := c.peek(key); ok {
			return bars, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
		defer cancel()
		bars, err := c.next.History(fetchCtx, req)
		if err != nil {
			return nil, err
		}
		c.add(key, bars)
		return bars, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return copyBars(r.Val.([]domain.Bar)), nil
	}
}

// LatestPrice delegates to the wrapped provider.
func (c *CachedProvider) LatestPrice(ctx context.Context, ticker string) (float64, error) {
	return c.next.LatestPrice(ctx, ticker)
}

// Len returns the number of cached requests.
func (c *CachedProvider) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns the hit and miss counts since creation.
func (c *CachedProvider) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Purge drops every cached entry.
func (c *CachedProvider) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

func (c *CachedProvider) get(key string) ([]domain.Bar, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bars, ok := c.lookup(key)
	if ok {
		c.hits++
		return copyBars(bars), true
	}
	c.misses++
	return nil, false
}

// peek is get without touching the counters, returning the shared slice.
func (c *CachedProvider) peek(key string) ([]domain.Bar, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key)
}

// lookup must be called with mu held.
func (c *CachedProvider) lookup(key string) ([]domain.Bar, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().Sub(entry.fetched) > c.ttl {
		c.ll.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return entry.bars, true
}

func (c *CachedProvider) add(key string, bars []domain.Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := copyBars(bars)
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		entry.bars = stored
		entry.fetched = c.now()
		return
	}
	c.items[key] = c.ll.PushFront(&cacheEntry{key: key, bars: stored, fetched: c.now()})
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func copyBars(bars []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	return out
}
