package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"openalpha/internal/backtest"
	"openalpha/internal/strategy"
)

// DefaultPath is the config file used when OPENALPHA_CONFIG is unset.
const DefaultPath = "config/openalpha.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the openalpha services.
type Config struct {
	Storage    Storage          `yaml:"storage"`
	Server     Server           `yaml:"server"`
	Alpaca     Alpaca           `yaml:"alpaca"`
	Logging    Logging          `yaml:"logging"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	Limits     LimitsConfig     `yaml:"limits"`
	Gather     GatherConfig     `yaml:"gather"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	GRPCPort    int      `yaml:"grpc_port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Alpaca holds credentials and the market data endpoint.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MarketDataConfig selects where price history comes from.
type MarketDataConfig struct {
	// Source is "alpaca" or "store".
	Source          string        `yaml:"source"`
	CacheSize       int           `yaml:"cache_size"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// BacktestConfig holds the defaults applied to requests that leave a field
// unset.
type BacktestConfig struct {
	Strategy       string  `yaml:"strategy"`
	Period         string  `yaml:"period"`
	FastWindow     int     `yaml:"fast_window"`
	SlowWindow     int     `yaml:"slow_window"`
	LookbackPeriod int     `yaml:"lookback_period"`
	Threshold      float64 `yaml:"threshold"`
	InitialCapital float64 `yaml:"initial_capital"`
	Commission     float64 `yaml:"commission"`
	PositionSize   float64 `yaml:"position_size"`
}

// LimitsConfig bounds what a single request may ask of the server.
type LimitsConfig struct {
	MaxInitialCapital   float64 `yaml:"max_initial_capital"`
	MaxCompare          int     `yaml:"max_compare"`
	MaxWindow           int     `yaml:"max_window"`
	MaxConcurrentRuns   int     `yaml:"max_concurrent_runs"`
	RunHistoryRetention int     `yaml:"run_history_retention"`
}

// GatherConfig controls the daily bar backfill job.
type GatherConfig struct {
	StartDate   string        `yaml:"start_date"`
	Symbols     []string      `yaml:"symbols"`
	SymbolsFile string        `yaml:"symbols_file"`
	MaxWorkers  int           `yaml:"max_workers"`
	Interval    time.Duration `yaml:"interval"`
	// MetricsAddr serves Prometheus metrics for the daemon; "" disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns $OPENALPHA_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("OPENALPHA_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, applies
// environment variable overrides, then fills defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields a default
// configuration with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	cfg = &Config{}
	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/openalpha.db"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 9090
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"http://localhost:3000"}
	}
	if c.Alpaca.Feed == "" {
		c.Alpaca.Feed = "sip"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.MarketData.Source == "" {
		c.MarketData.Source = "alpaca"
	}
	if c.MarketData.CacheSize == 0 {
		c.MarketData.CacheSize = 128
	}
	if c.MarketData.CacheTTL == 0 {
		c.MarketData.CacheTTL = 15 * time.Minute
	}
	if c.MarketData.RateLimitPerMin == 0 {
		c.MarketData.RateLimitPerMin = 200
	}
	if c.MarketData.MaxAttempts == 0 {
		c.MarketData.MaxAttempts = 3
	}
	if c.MarketData.RetryDelay == 0 {
		c.MarketData.RetryDelay = time.Second
	}

	def := strategy.DefaultParams()
	if c.Backtest.Strategy == "" {
		c.Backtest.Strategy = "sma"
	}
	if c.Backtest.Period == "" {
		c.Backtest.Period = "1y"
	}
	if c.Backtest.FastWindow == 0 {
		c.Backtest.FastWindow = def.FastWindow
	}
	if c.Backtest.SlowWindow == 0 {
		c.Backtest.SlowWindow = def.SlowWindow
	}
	if c.Backtest.LookbackPeriod == 0 {
		c.Backtest.LookbackPeriod = def.LookbackPeriod
	}
	if c.Backtest.Threshold == 0 {
		c.Backtest.Threshold = def.Threshold
	}
	if c.Backtest.InitialCapital == 0 {
		c.Backtest.InitialCapital = 100000
	}
	if c.Backtest.Commission == 0 {
		c.Backtest.Commission = backtest.DefaultCommission
	}
	if c.Backtest.PositionSize == 0 {
		c.Backtest.PositionSize = backtest.DefaultPositionSize
	}

	if c.Limits.MaxInitialCapital == 0 {
		c.Limits.MaxInitialCapital = 1e12
	}
	if c.Limits.MaxCompare == 0 {
		c.Limits.MaxCompare = 8
	}
	if c.Limits.MaxWindow == 0 {
		c.Limits.MaxWindow = 1000
	}
	if c.Limits.MaxConcurrentRuns == 0 {
		c.Limits.MaxConcurrentRuns = 16
	}
	if c.Limits.RunHistoryRetention == 0 {
		c.Limits.RunHistoryRetention = 1000
	}

	if c.Gather.StartDate == "" {
		c.Gather.StartDate = "2020-01-01"
	}
	if c.Gather.MaxWorkers == 0 {
		c.Gather.MaxWorkers = 4
	}
	if c.Gather.Interval == 0 {
		c.Gather.Interval = 24 * time.Hour
	}
}

// StrategyParams returns the configured strategy parameters.
func (b BacktestConfig) StrategyParams() strategy.Params {
	return strategy.Params{
		FastWindow:     b.FastWindow,
		SlowWindow:     b.SlowWindow,
		LookbackPeriod: b.LookbackPeriod,
		Threshold:      b.Threshold,
	}
}

// Options returns the configured simulation options.
func (b BacktestConfig) Options() backtest.Options {
	return backtest.Options{
		InitialCapital: b.InitialCapital,
		Commission:     b.Commission,
		PositionSize:   b.PositionSize,
	}
}

// HTTPAddr is the host:port of the HTTP listener.
func (s Server) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCAddr is the host:port of the gRPC listener.
func (s Server) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_FEED"); v != "" {
		cfg.Alpaca.Feed = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("OPENALPHA_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("OPENALPHA_MARKET_DATA"); v != "" {
		cfg.MarketData.Source = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
