package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"openalpha/internal/config"
	"openalpha/internal/engine"
	"openalpha/internal/util"
)

var (
	configPath string
	rpcHost    string
	jsonOut    bool
	timeout    time.Duration
)

const defaultTimeout = 2 * time.Minute

func main() {
	_ = godotenv.Load() // best-effort
	app := cli.NewApp()
	app.Name = "openalpha-cli"
	app.Version = engine.Version
	app.EnableBashCompletion = true
	app.Usage = "backtest trading strategies against daily price history"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Value:       config.Path(),
			Usage:       "path to the YAML config file",
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "rpchost",
			Usage:       "run against an openalpha-server gRPC address instead of locally",
			EnvVars:     []string{"OPENALPHA_RPC_HOST"},
			Destination: &rpcHost,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print results as JSON",
			Destination: &jsonOut,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Value:       defaultTimeout,
			Usage:       "the context timeout for each command",
			Destination: &timeout,
		},
	}
	app.Commands = []*cli.Command{
		backtestCommand,
		compareCommand,
		listStrategiesCommand,
		runsCommand,
		versionCommand,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openEngine loads the config and builds a local engine. Logs go to stderr
// so they do not mix with tables or JSON on stdout.
func openEngine() (*engine.Engine, func() error, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Logging.Level
	if level == "info" {
		level = "warn"
	}
	util.SetDefault(util.NewLoggerTo(os.Stderr, level, "text"))
	return engine.Open(cfg)
}

func withTimeout(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, timeout)
}
