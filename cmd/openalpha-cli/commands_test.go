package main

import (
	"flag"
	"testing"

	"github.com/urfave/cli/v2"
)

func newContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("backtest", flag.ContinueOnError)
	for _, f := range backtestCommand.Flags {
		if err := f.Apply(set); err != nil {
			t.Fatal(err)
		}
	}
	if err := set.Parse(args); err != nil {
		t.Fatal(err)
	}
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestWireRequestOnlySetFlags(t *testing.T) {
	c := newContext(t, "--strategy", "sma", "--fast", "5", "--commission", "0", "aapl")
	req, err := wireRequest(c)
	if err != nil {
		t.Fatal(err)
	}
	if req.Ticker != "aapl" || req.Strategy != "sma" {
		t.Errorf("got %s/%s, want aapl/sma", req.Ticker, req.Strategy)
	}
	if req.Commission == nil || *req.Commission != 0 {
		t.Errorf("Commission = %v, want explicit 0", req.Commission)
	}
	if req.InitialCapital != nil {
		t.Errorf("InitialCapital = %v, want unset", *req.InitialCapital)
	}
	if len(req.StrategyParams) != 1 || req.StrategyParams["fast_window"] != 5 {
		t.Errorf("StrategyParams = %v, want only fast_window 5", req.StrategyParams)
	}
}

func TestWireRequestNeedsTicker(t *testing.T) {
	if _, err := wireRequest(newContext(t)); err == nil {
		t.Error("wireRequest without a ticker returned nil error")
	}
}
