package backtest

import (
	"math"
)

// TradingDaysPerYear is the annualisation constant used for returns and
// volatility.
const TradingDaysPerYear = 252

// MaxMetric bounds the magnitude of every reported ratio. It leaves headroom
// for scaling to a percentage without overflowing float64.
const MaxMetric = 1e300

// Metrics is the fixed summary of one backtest. Every ratio is a fraction
// (0.1 means 10%) at full precision; callers round for display.
type Metrics struct {
	TotalReturn  float64 `json:"total_return"`
	AnnualReturn float64 `json:"annual_return"`
	Volatility   float64 `json:"volatility"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	NumTrades    int     `json:"num_trades"`
}

// ComputeMetrics reduces a net return series and its equity curve to the
// summary record. An empty return series yields the zero Metrics.
//
// annualReturn compounds over len(netReturns) observations, not the calendar
// span of the history. numTrades counts the periods with a non-zero net
// return. The risk-free rate is zero.
func ComputeMetrics(netReturns, equity []float64, initialCapital float64) Metrics {
	n := len(netReturns)
	if n == 0 || len(equity) == 0 || initialCapital <= 0 {
		return Metrics{}
	}

	var m Metrics
	m.TotalReturn = equity[len(equity)-1]/initialCapital - 1

	if growth := 1 + m.TotalReturn; growth > 0 {
		m.AnnualReturn = math.Pow(growth, float64(TradingDaysPerYear)/float64(n)) - 1
	} else {
		m.AnnualReturn = -1
	}

	m.Volatility = sampleStdDev(netReturns) * math.Sqrt(TradingDaysPerYear)
	if m.Volatility > 0 {
		m.SharpeRatio = m.AnnualReturn / m.Volatility
	}

	m.MaxDrawdown = maxDrawdown(equity)

	var wins int
	for _, r := range netReturns {
		if r > 0 {
			wins++
		}
		if r != 0 {
			m.NumTrades++
		}
	}
	if m.NumTrades > 0 {
		m.WinRate = float64(wins) / float64(m.NumTrades)
	}

	m.TotalReturn = finite(m.TotalReturn)
	m.AnnualReturn = finite(m.AnnualReturn)
	m.Volatility = finite(m.Volatility)
	m.SharpeRatio = finite(m.SharpeRatio)
	return m
}

// maxDrawdown returns the most negative (equity-peak)/peak over the curve,
// where peak is the running maximum. The result lies in [-1, 0].
func maxDrawdown(equity []float64) float64 {
	var worst float64
	peak := equity[0]
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (v - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return math.Max(worst, -1)
}

// sampleStdDev is the n-1 standard deviation; fewer than two values have no
// dispersion and return 0.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// finite clamps v to [-MaxMetric, MaxMetric] and maps NaN to zero so a
// metric is always encodable.
func finite(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > MaxMetric:
		return MaxMetric
	case v < -MaxMetric:
		return -MaxMetric
	}
	return v
}
