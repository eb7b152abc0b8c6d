package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveBacktest(t *testing.T) {
	m := New()
	m.ObserveBacktest("sma", "ok", 20*time.Millisecond)
	m.ObserveBacktest("sma", "ok", 30*time.Millisecond)
	m.ObserveBacktest("sma", "invalid", time.Millisecond)

	if got := testutil.ToFloat64(m.Backtests.WithLabelValues("sma", "ok")); got != 2 {
		t.Errorf("backtests{sma,ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Backtests.WithLabelValues("sma", "invalid")); got != 1 {
		t.Errorf("backtests{sma,invalid} = %v, want 1", got)
	}
}

func TestObserveGather(t *testing.T) {
	m := New()
	m.ObserveGather(3, 1, 0, 2)
	if got := testutil.ToFloat64(m.GatheredSymbols.WithLabelValues("failed")); got != 2 {
		t.Errorf("gathered{failed} = %v, want 2", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest("GET /strategies", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `openalpha_http_requests_total{code="200",route="GET /strategies"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}
