package marketdata

import (
	"fmt"

	"openalpha/internal/config"
	"openalpha/internal/domain"
	"openalpha/internal/store"
)

// Market data sources selectable in config.
const (
	SourceAlpaca = "alpaca"
	SourceStore  = "store"
)

// NewAlpacaFromConfig builds an AlpacaProvider from the alpaca and
// market_data config sections.
func NewAlpacaFromConfig(md config.MarketDataConfig, ac config.Alpaca) *AlpacaProvider {
	return NewAlpacaProvider(AlpacaOptions{
		APIKey:          ac.APIKey,
		APISecret:       ac.APISecret,
		DataURL:         ac.DataURL,
		Feed:            ac.Feed,
		RateLimitPerMin: md.RateLimitPerMin,
		MaxAttempts:     md.MaxAttempts,
		RetryDelay:      md.RetryDelay,
	})
}

// NewFromConfig builds the provider selected by md.Source, wrapped in a
// CachedProvider when md.CacheSize is positive. bars is only used by the
// store source.
func NewFromConfig(md config.MarketDataConfig, ac config.Alpaca, bars store.BarStore) (Provider, error) {
	var p Provider
	switch md.Source {
	case SourceAlpaca, "":
		p = NewAlpacaFromConfig(md, ac)
	case SourceStore:
		if bars == nil {
			return nil, fmt.Errorf("market data source %q needs a bar store", md.Source)
		}
		p = NewStoreProvider(bars, domain.MarketUS)
	default:
		return nil, fmt.Errorf("unknown market data source %q", md.Source)
	}
	if md.CacheSize > 0 {
		p = NewCachedProvider(p, md.CacheSize, md.CacheTTL)
	}
	return p, nil
}
