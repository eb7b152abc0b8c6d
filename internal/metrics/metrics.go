// Package metrics holds the Prometheus collectors of the openalpha services.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a set of collectors registered on their own registry, so tests
// and multiple servers in one process do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	Backtests        *prometheus.CounterVec
	BacktestDuration *prometheus.HistogramVec
	GatheredSymbols  *prometheus.CounterVec
}

// New creates and registers the collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "openalpha_http_requests_total", Help: "HTTP requests served"},
			[]string{"route", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "openalpha_http_request_duration_seconds", Help: "HTTP request latency", Buckets: prometheus.DefBuckets},
			[]string{"route"},
		),
		Backtests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "openalpha_backtests_total", Help: "Backtests run, by strategy and result"},
			[]string{"strategy", "result"},
		),
		BacktestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "openalpha_backtest_duration_seconds", Help: "Backtest latency including the history fetch", Buckets: prometheus.DefBuckets},
			[]string{"strategy"},
		),
		GatheredSymbols: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "openalpha_gathered_symbols_total", Help: "Symbols processed by gather passes, by outcome"},
			[]string{"outcome"},
		),
	}
	m.Registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.Backtests,
		m.BacktestDuration,
		m.GatheredSymbols,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveBacktest records one finished backtest. result is "ok" or an error
// kind.
func (m *Metrics) ObserveBacktest(strategy, result string, elapsed time.Duration) {
	m.Backtests.WithLabelValues(strategy, result).Inc()
	m.BacktestDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveGather adds the per-outcome symbol counts of one gather pass.
func (m *Metrics) ObserveGather(updated, current, empty, failed int64) {
	m.GatheredSymbols.WithLabelValues("updated").Add(float64(updated))
	m.GatheredSymbols.WithLabelValues("current").Add(float64(current))
	m.GatheredSymbols.WithLabelValues("empty").Add(float64(empty))
	m.GatheredSymbols.WithLabelValues("failed").Add(float64(failed))
}

// Serve starts a metrics-only HTTP server in the background.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return srv
}
