package backtest

import (
	"math"
	"testing"
)

func TestComputeMetricsEmpty(t *testing.T) {
	if got := ComputeMetrics(nil, []float64{1000}, 1000); got != (Metrics{}) {
		t.Errorf("ComputeMetrics(no returns) = %+v, want zero", got)
	}
}

func TestComputeMetricsValues(t *testing.T) {
	returns := []float64{0.1, -0.05, 0, 0.02}
	equity := []float64{1000, 1100, 1045, 1045, 1065.9}

	m := ComputeMetrics(returns, equity, 1000)

	if math.Abs(m.TotalReturn-0.0659) > eps {
		t.Errorf("TotalReturn = %v, want 0.0659", m.TotalReturn)
	}
	wantAnnual := math.Pow(1.0659, 252.0/4) - 1
	if math.Abs(m.AnnualReturn-wantAnnual) > 1e-6 {
		t.Errorf("AnnualReturn = %v, want %v", m.AnnualReturn, wantAnnual)
	}

	mean := (0.1 - 0.05 + 0 + 0.02) / 4
	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	wantVol := math.Sqrt(sq/3) * math.Sqrt(252)
	if math.Abs(m.Volatility-wantVol) > eps {
		t.Errorf("Volatility = %v, want %v", m.Volatility, wantVol)
	}
	if math.Abs(m.SharpeRatio-wantAnnual/wantVol) > 1e-6 {
		t.Errorf("SharpeRatio = %v, want %v", m.SharpeRatio, wantAnnual/wantVol)
	}
	if math.Abs(m.MaxDrawdown-(-0.05)) > eps {
		t.Errorf("MaxDrawdown = %v, want -0.05", m.MaxDrawdown)
	}
	if m.NumTrades != 3 {
		t.Errorf("NumTrades = %d, want 3", m.NumTrades)
	}
	if math.Abs(m.WinRate-2.0/3) > eps {
		t.Errorf("WinRate = %v, want 2/3", m.WinRate)
	}
}

func TestComputeMetricsZeroVolatility(t *testing.T) {
	// One observation has no sample dispersion.
	m := ComputeMetrics([]float64{0.01}, []float64{1000, 1010}, 1000)
	if m.Volatility != 0 || m.SharpeRatio != 0 {
		t.Errorf("Volatility = %v, SharpeRatio = %v, want 0 and 0", m.Volatility, m.SharpeRatio)
	}
	if math.IsInf(m.AnnualReturn, 0) || math.IsNaN(m.AnnualReturn) {
		t.Errorf("AnnualReturn = %v, want a finite value", m.AnnualReturn)
	}
}

func TestComputeMetricsTotalLoss(t *testing.T) {
	m := ComputeMetrics([]float64{-1}, []float64{1000, 0}, 1000)
	if m.AnnualReturn != -1 {
		t.Errorf("AnnualReturn = %v, want -1", m.AnnualReturn)
	}
	if m.MaxDrawdown != -1 {
		t.Errorf("MaxDrawdown = %v, want -1", m.MaxDrawdown)
	}
}

func TestMaxDrawdownBounds(t *testing.T) {
	curves := [][]float64{
		{100, 100, 100},
		{100, 101, 105, 110},
		{100, 90, 95, 80, 120},
		{100, 50, 25, 0},
		{100, 120, -20},
	}
	for _, c := range curves {
		dd := maxDrawdown(c)
		if dd < -1 || dd > 0 {
			t.Errorf("maxDrawdown(%v) = %v, want within [-1, 0]", c, dd)
		}
		nonDecreasing := true
		for i := 1; i < len(c); i++ {
			if c[i] < c[i-1] {
				nonDecreasing = false
			}
		}
		if nonDecreasing != (dd == 0) {
			t.Errorf("maxDrawdown(%v) = %v, non-decreasing = %v", c, dd, nonDecreasing)
		}
	}
}

func TestComputeMetricsExplosiveGrowthStaysBounded(t *testing.T) {
	// 2000x in one period overflows the annualised figure.
	m := ComputeMetrics([]float64{1999}, []float64{1, 2000}, 1)
	if m.AnnualReturn != MaxMetric {
		t.Errorf("AnnualReturn = %v, want %v", m.AnnualReturn, MaxMetric)
	}
	if scaled := m.AnnualReturn * 100; math.IsInf(scaled, 0) {
		t.Errorf("AnnualReturn*100 = %v, want finite", scaled)
	}
}
