package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"openalpha/internal/api"
	"openalpha/internal/config"
	"openalpha/internal/engine"
	"openalpha/internal/httpapi"
	"openalpha/internal/metrics"
	"openalpha/internal/util"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfgPath := flag.String("config", config.Path(), "path to the YAML config file")
	flag.Parse()

	_ = godotenv.Load() // best-effort
	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	e, closeRuns, err := engine.Open(cfg)
	if err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}
	defer closeRuns()

	m := metrics.New()
	e.SetObserver(m)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr(),
		Handler:           httpapi.NewServer(e, cfg.Server.CORSOrigins, logger).WithMetrics(m).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr())
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", cfg.Server.GRPCAddr(), err)
	}
	grpcSrv, health := api.NewServer(api.NewService(e, logger))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("grpc listening", "addr", grpcLis.Addr().String())
		return grpcSrv.Serve(grpcLis)
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
