package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"openalpha/internal/backtest"
	"openalpha/internal/store"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")).Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	gainStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return labelStyle
			default:
				return cellStyle
			}
		})
}

// MetricsTable renders one metrics record as a two-column table.
func MetricsTable(title string, m backtest.Metrics) string {
	v := NewMetricsView(m)
	t := newTable("Metric", "Value").Rows(
		[]string{"Total Return", pct(v.TotalReturn)},
		[]string{"Annual Return", pct(v.AnnualReturn)},
		[]string{"Volatility", pct(v.Volatility)},
		[]string{"Sharpe Ratio", fixed(v.SharpeRatio)},
		[]string{"Max Drawdown", pct(v.MaxDrawdown)},
		[]string{"Win Rate", pct(v.WinRate)},
		[]string{"Number of Trades", strconv.Itoa(v.NumTrades)},
	)
	return titleStyle.Render(title) + "\n" + t.String()
}

// CompareTable renders one row per strategy result.
func CompareTable(results []*backtest.Result) string {
	t := newTable("Strategy", "Total", "Annual", "Vol", "Sharpe", "Max DD", "Win", "Trades", "Final Equity")
	for _, res := range results {
		v := NewMetricsView(res.Metrics)
		t.Row(
			res.Strategy,
			pct(v.TotalReturn),
			pct(v.AnnualReturn),
			pct(v.Volatility),
			fixed(v.SharpeRatio),
			pct(v.MaxDrawdown),
			pct(v.WinRate),
			strconv.Itoa(v.NumTrades),
			Money(res.FinalEquity()),
		)
	}
	return t.String()
}

// TradesTable renders the trade log. limit <= 0 renders every trade;
// otherwise only the last limit trades are shown.
func TradesTable(trades []backtest.Trade, limit int) string {
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	t := newTable("Date", "Signal", "Price", "Position")
	for _, tr := range trades {
		t.Row(
			tr.Date.Format(DateLayout),
			tr.Signal.String(),
			fixed(tr.Price),
			strconv.FormatFloat(tr.Position, 'f', -1, 64),
		)
	}
	return t.String()
}

// RunsTable renders stored runs.
func RunsTable(runs []store.Run) string {
	t := newTable("ID", "Ticker", "Strategy", "Range", "Total", "Sharpe", "Final Equity", "Created")
	for _, r := range runs {
		v := NewMetricsView(r.Metrics)
		t.Row(
			shortID(r.ID),
			r.Ticker,
			r.Strategy,
			r.Start.Format(DateLayout)+" .. "+r.End.Format(DateLayout),
			pct(v.TotalReturn),
			fixed(v.SharpeRatio),
			Money(r.FinalEquity),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return t.String()
}

// Summary renders the final portfolio value and profit or loss of a run.
func Summary(res *backtest.Result) string {
	final := res.FinalEquity()
	pl := final - res.Options.InitialCapital
	style := gainStyle
	if pl < 0 {
		style = lossStyle
	}
	return fmt.Sprintf("Final Portfolio Value: %s\nProfit/Loss: %s",
		gainStyle.Render(Money(final)), style.Render(Money(pl)))
}

// Money formats v as dollars with thousands separators and two decimals.
func Money(v float64) string {
	s := decimal.NewFromFloat(v).StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String() + "." + frac
}

func pct(v float64) string { return fixed(v) + "%" }

func fixed(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
