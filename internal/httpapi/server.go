// Package httpapi serves the backtester over a JSON REST API.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"openalpha/internal/engine"
	"openalpha/internal/metrics"
	"openalpha/internal/report"
)

const maxBodyBytes = 1 << 20

// Server exposes an Engine over HTTP.
type Server struct {
	engine  *engine.Engine
	origins []string
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewServer creates a Server. origins lists the browser origins allowed by
// CORS; "*" allows any.
func NewServer(e *engine.Engine, origins []string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:  e,
		origins: origins,
		log:     log.With("component", "httpapi"),
		now:     time.Now,
	}
}

// WithMetrics records request metrics into m and serves them at /metrics.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.metrics = m
	return s
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /strategies", s.handleStrategies)
	mux.HandleFunc("GET /market-data/{ticker}", s.handleMarketData)
	mux.HandleFunc("GET /price/{ticker}", s.handlePrice)
	mux.HandleFunc("POST /backtest", s.handleBacktest)
	mux.HandleFunc("POST /compare", s.handleCompare)
	mux.HandleFunc("GET /runs", s.handleRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleRun)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns an http.Handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(s.cors(mux))
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.allowOrigin(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) bool {
	return slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", elapsed,
		)
		if s.metrics != nil {
			// The mux sets Pattern on the matched request; it stays empty
			// for preflights and 404s.
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			s.metrics.ObserveRequest(route, rec.status, elapsed)
		}
	})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"message": "OpenAlpha Trading API",
		"version": engine.Version,
		"status":  "running",
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, report.NewStrategiesView(s.engine.Strategies()))
}

func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(r.PathValue("ticker"))
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1mo"
	}
	bars, err := s.engine.MarketData(r.Context(), ticker, period)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, report.NewMarketDataView(ticker, period, bars))
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(r.PathValue("ticker"))
	price, err := s.engine.LatestPrice(r.Context(), ticker)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, report.NewPriceView(ticker, price, s.now()))
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var body report.BacktestRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := body.EngineRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.Run(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, report.NewBacktestViewFromOutcome(out))
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var body report.CompareRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := body.EngineRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outs, err := s.engine.Compare(r.Context(), req, body.Strategies)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, report.NewCompareView(outs))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	runs, err := s.engine.Runs(r.Context(), q.Get("ticker"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]report.RunView, len(runs))
	for i := range runs {
		views[i] = report.NewRunView(&runs[i], nil)
	}
	writeJSON(w, map[string]any{"runs": views})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, equity, err := s.engine.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, report.NewRunView(run, equity))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// StatusFor maps an engine error to an HTTP status code.
func StatusFor(err error) int {
	switch engine.ErrorKind(err) {
	case engine.KindInvalid:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindUpstream:
		return http.StatusBadGateway
	case engine.KindCanceled:
		return http.StatusGatewayTimeout
	case engine.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

// writeJSON encodes v before writing anything, so an unencodable value
// becomes a 500 error body rather than a truncated 200.
func writeJSON(w http.ResponseWriter, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
		writeError(w, http.StatusInternalServerError, "encoding response: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
