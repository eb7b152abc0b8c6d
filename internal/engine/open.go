package engine

import (
	"fmt"

	"openalpha/internal/config"
	"openalpha/internal/marketdata"
	"openalpha/internal/store"
	"openalpha/internal/strategy/builtins"
)

// Open builds an Engine from cfg: the parquet store under the data dir, the
// run database, the configured market data provider and the builtin
// strategies. The returned func closes the run database.
func Open(cfg *config.Config) (*Engine, func() error, error) {
	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	provider, err := marketdata.NewFromConfig(cfg.MarketData, cfg.Alpaca, pstore)
	if err != nil {
		return nil, nil, err
	}

	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening run database %s: %w", cfg.Storage.SQLitePath, err)
	}

	e := NewEngine(
		provider,
		builtins.NewRegistry(),
		runs,
		pstore,
		LimitsFromConfig(cfg.Limits),
		DefaultsFromConfig(cfg.Backtest),
	)
	return e, runs.Close, nil
}
