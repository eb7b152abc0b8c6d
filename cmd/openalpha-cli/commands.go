package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/urfave/cli/v2"

	"openalpha/internal/api"
	"openalpha/internal/backtest"
	"openalpha/internal/engine"
	"openalpha/internal/report"
	"openalpha/internal/strategy"
)

// backtestFlags are shared by backtest and compare.
var backtestFlags = []cli.Flag{
	&cli.StringFlag{Name: "period", Aliases: []string{"p"}, Usage: "history period: 1d 5d 1mo 3mo 6mo 1y 2y 5y 10y ytd max"},
	&cli.StringFlag{Name: "start", Usage: "first date (YYYY-MM-DD), overrides period"},
	&cli.StringFlag{Name: "end", Usage: "last date (YYYY-MM-DD)"},
	&cli.Float64Flag{Name: "capital", Usage: "initial capital"},
	&cli.Float64Flag{Name: "commission", Usage: "proportional commission per unit of position change"},
	&cli.Float64Flag{Name: "size", Usage: "fraction of capital exposed, in (0, 1]"},
	&cli.IntFlag{Name: "fast", Usage: "fast window for the sma strategy"},
	&cli.IntFlag{Name: "slow", Usage: "slow window for the sma strategy"},
	&cli.IntFlag{Name: "lookback", Usage: "lookback period for the momentum strategy"},
	&cli.Float64Flag{Name: "threshold", Usage: "threshold for the momentum strategy"},
}

var backtestCommand = &cli.Command{
	Name:      "backtest",
	Usage:     "run a backtest for a ticker and strategy",
	ArgsUsage: "<ticker>",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "strategy", Aliases: []string{"s"}, Usage: "strategy name, see list-strategies"},
		&cli.IntFlag{Name: "trades", Value: 10, Usage: "show the last N trades, 0 for none"},
	}, backtestFlags...),
	Action: runBacktest,
}

var compareCommand = &cli.Command{
	Name:      "compare",
	Usage:     "run several strategies over the same history",
	ArgsUsage: "<ticker>",
	Flags: append([]cli.Flag{
		&cli.StringSliceFlag{Name: "strategies", Value: cli.NewStringSlice("sma", "momentum", "buy_hold"), Usage: "strategies to compare"},
	}, backtestFlags...),
	Action: runCompare,
}

var listStrategiesCommand = &cli.Command{
	Name:   "list-strategies",
	Usage:  "list available trading strategies",
	Action: listStrategies,
}

var runsCommand = &cli.Command{
	Name:      "runs",
	Usage:     "list recorded backtests, or show one by id",
	ArgsUsage: "[id]",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "ticker", Usage: "only runs for this ticker"},
		&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum runs to list"},
	},
	Action: listRuns,
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "print the CLI version",
	Action: func(c *cli.Context) error {
		fmt.Printf("%s %s\n", c.App.Name, engine.Version)
		return nil
	},
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// wireRequest builds a request from the flags that were set. Unset flags
// leave the config defaults in place.
func wireRequest(c *cli.Context) (report.BacktestRequest, error) {
	if c.NArg() != 1 {
		return report.BacktestRequest{}, fmt.Errorf("expected one ticker argument, got %d", c.NArg())
	}
	req := report.BacktestRequest{
		Ticker:   c.Args().First(),
		Strategy: c.String("strategy"),
		Period:   c.String("period"),
		Start:    c.String("start"),
		End:      c.String("end"),
	}
	floatFlag := func(name string) *float64 {
		if !c.IsSet(name) {
			return nil
		}
		v := c.Float64(name)
		return &v
	}
	req.InitialCapital = floatFlag("capital")
	req.Commission = floatFlag("commission")
	req.PositionSize = floatFlag("size")

	params := map[string]any{}
	for flag, param := range map[string]string{"fast": "fast_window", "slow": "slow_window", "lookback": "lookback_period"} {
		if c.IsSet(flag) {
			params[param] = c.Int(flag)
		}
	}
	if c.IsSet("threshold") {
		params["threshold"] = c.Float64("threshold")
	}
	if len(params) > 0 {
		req.StrategyParams = params
	}
	return req, nil
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

func runBacktest(c *cli.Context) error {
	wire, err := wireRequest(c)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	if rpcHost != "" {
		client, err := api.Dial(rpcHost)
		if err != nil {
			return err
		}
		defer client.Close()
		view, err := client.RunBacktest(ctx, wire)
		if err != nil {
			return err
		}
		return jsonOutput(view)
	}

	e, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	req, err := wire.EngineRequest()
	if err != nil {
		return err
	}
	out, err := e.Run(ctx, req)
	if err != nil {
		return err
	}
	if jsonOut {
		return jsonOutput(report.NewBacktestViewFromOutcome(out))
	}

	res := out.Result
	fmt.Printf("\nBacktest for %s (%s, %d bars, %s to %s)\n", out.Ticker, out.Period, out.Bars,
		out.Start.Format(report.DateLayout), out.End.Format(report.DateLayout))
	fmt.Printf("%s\n", res.Description)
	fmt.Printf("Initial Capital: %s\n\n", report.Money(res.Options.InitialCapital))
	fmt.Println(report.MetricsTable("Backtest Results", res.Metrics))
	fmt.Println()
	fmt.Println(report.Summary(res))
	if n := c.Int("trades"); n > 0 && len(res.Trades) > 0 {
		fmt.Println()
		fmt.Println(report.TradesTable(res.Trades, n))
	}
	if out.RunID != "" {
		fmt.Printf("\nRun %s recorded\n", out.RunID)
	}
	return nil
}

func runCompare(c *cli.Context) error {
	wire, err := wireRequest(c)
	if err != nil {
		return err
	}
	names := c.StringSlice("strategies")
	ctx, cancel := withTimeout(c)
	defer cancel()

	if rpcHost != "" {
		client, err := api.Dial(rpcHost)
		if err != nil {
			return err
		}
		defer client.Close()
		view, err := client.Compare(ctx, report.CompareRequest{BacktestRequest: wire, Strategies: names})
		if err != nil {
			return err
		}
		return jsonOutput(view)
	}

	e, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	req, err := wire.EngineRequest()
	if err != nil {
		return err
	}
	outs, err := e.Compare(ctx, req, names)
	if err != nil {
		return err
	}
	if jsonOut {
		return jsonOutput(report.NewCompareView(outs))
	}

	results := make([]*backtest.Result, 0, len(outs))
	for _, out := range outs {
		results = append(results, out.Result)
	}
	fmt.Printf("\nComparison for %s (%s, %d bars)\n", outs[0].Ticker, outs[0].Period, outs[0].Bars)
	fmt.Println(report.CompareTable(results))
	return nil
}

func listStrategies(c *cli.Context) error {
	var infos []strategy.Info
	if rpcHost != "" {
		ctx, cancel := withTimeout(c)
		defer cancel()
		client, err := api.Dial(rpcHost)
		if err != nil {
			return err
		}
		defer client.Close()
		view, err := client.ListStrategies(ctx)
		if err != nil {
			return err
		}
		for _, s := range view.Strategies {
			infos = append(infos, strategy.Info{Name: s.Name, Description: s.Description})
		}
	} else {
		e, closeFn, err := openEngine()
		if err != nil {
			return err
		}
		defer closeFn()
		infos = e.Strategies()
	}

	if jsonOut {
		return jsonOutput(report.NewStrategiesView(infos))
	}
	fmt.Println("\nAvailable Trading Strategies:")
	fmt.Println()
	for _, info := range sortInfos(infos) {
		fmt.Printf("  %-10s %s\n", info.Name, info.Description)
	}
	return nil
}

func listRuns(c *cli.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	if rpcHost != "" {
		if c.NArg() != 1 {
			return fmt.Errorf("listing runs remotely is not supported; pass a run id")
		}
		client, err := api.Dial(rpcHost)
		if err != nil {
			return err
		}
		defer client.Close()
		view, err := client.GetRun(ctx, c.Args().First())
		if err != nil {
			return err
		}
		return jsonOutput(view)
	}

	e, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	if c.NArg() == 1 {
		run, equity, err := e.GetRun(ctx, c.Args().First())
		if err != nil {
			return err
		}
		return jsonOutput(report.NewRunView(run, equity))
	}

	runs, err := e.Runs(ctx, c.String("ticker"), c.Int("limit"))
	if err != nil {
		return err
	}
	if jsonOut {
		views := make([]report.RunView, len(runs))
		for i := range runs {
			views[i] = report.NewRunView(&runs[i], nil)
		}
		return jsonOutput(views)
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}
	fmt.Println(report.RunsTable(runs))
	return nil
}

func jsonOutput(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortInfos(infos []strategy.Info) []strategy.Info {
	out := slices.Clone(infos)
	slices.SortFunc(out, func(a, b strategy.Info) int { return strings.Compare(a.Name, b.Name) })
	return out
}
