package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"openalpha/internal/config"
	"openalpha/internal/gather"
	"openalpha/internal/marketdata"
	"openalpha/internal/metrics"
	"openalpha/internal/store"
	"openalpha/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "path to the YAML config file")
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Parse()

	_ = godotenv.Load() // best-effort
	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	symbols := cfg.Gather.Symbols
	if cfg.Gather.SymbolsFile != "" {
		fromFile, err := gather.LoadSymbols(cfg.Gather.SymbolsFile)
		if err != nil {
			log.Fatalf("failed to load symbols: %v", err)
		}
		symbols = append(symbols, fromFile...)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	// Always gather from the upstream API, whatever backtests read from.
	provider := marketdata.NewAlpacaFromConfig(cfg.MarketData, cfg.Alpaca)

	g, err := gather.NewDailyBarGatherer(provider, pstore, symbols, cfg.Gather.MaxWorkers, cfg.Gather.StartDate, cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("failed to create gatherer: %v", err)
	}

	if addr := cfg.Gather.MetricsAddr; addr != "" && !*once {
		m := metrics.New()
		g.OnPass(func(s gather.Summary) { m.ObserveGather(s.Updated, s.Current, s.Empty, s.Failed) })
		srv := m.Serve(addr)
		defer srv.Close()
		slog.Info("metrics listening", "addr", addr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting openalpha-gather", "symbols", len(g.Symbols()), "interval", cfg.Gather.Interval, "once", *once)
	if *once {
		err = g.Run(ctx)
	} else {
		err = gather.RunEvery(ctx, g, cfg.Gather.Interval)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatalf("daemon error: %v", err)
	}
}
