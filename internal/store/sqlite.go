package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"openalpha/internal/backtest"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	ticker         TEXT    NOT NULL,
	strategy       TEXT    NOT NULL,
	description    TEXT    NOT NULL,
	params         TEXT,
	initial_capital REAL   NOT NULL,
	commission     REAL    NOT NULL,
	position_size  REAL    NOT NULL,
	total_return   REAL    NOT NULL,
	annual_return  REAL    NOT NULL,
	volatility     REAL    NOT NULL,
	sharpe_ratio   REAL    NOT NULL,
	max_drawdown   REAL    NOT NULL,
	win_rate       REAL    NOT NULL,
	num_trades     INTEGER NOT NULL,
	final_equity   REAL    NOT NULL,
	num_bars       INTEGER NOT NULL,
	trade_count    INTEGER NOT NULL,
	start_ms       INTEGER NOT NULL,
	end_ms         INTEGER NOT NULL,
	created_at_ms  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_ticker_created ON runs (ticker, created_at_ms DESC);
CREATE INDEX IF NOT EXISTS runs_created ON runs (created_at_ms DESC);
`

const runColumns = `id, ticker, strategy, description, params,
	initial_capital, commission, position_size,
	total_return, annual_return, volatility, sharpe_ratio, max_drawdown, win_rate, num_trades,
	final_equity, num_bars, trade_count, start_ms, end_ms, created_at_ms`

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema, and returns a ready-to-use SQLiteStore. Use ":memory:" for a
// throwaway database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a new run into the database.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}

	var params any
	if len(run.Params) > 0 {
		params = string(run.Params)
	}
	m := run.Metrics
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Ticker, run.Strategy, run.Description, params,
		run.Options.InitialCapital, run.Options.Commission, run.Options.PositionSize,
		m.TotalReturn, m.AnnualReturn, m.Volatility, m.SharpeRatio, m.MaxDrawdown, m.WinRate, m.NumTrades,
		run.FinalEquity, run.NumBars, run.NumTrades,
		run.Start.UnixMilli(), run.End.UnixMilli(), run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, ticker string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if ticker == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+runColumns+` FROM runs ORDER BY created_at_ms DESC, id LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+runColumns+` FROM runs WHERE ticker = ? ORDER BY created_at_ms DESC, id LIMIT ?`, ticker, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// PruneRuns keeps the newest keep runs.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id NOT IN (
		SELECT id FROM runs ORDER BY created_at_ms DESC, id LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run                     Run
		m                       backtest.Metrics
		params                  sql.NullString
		startMs, endMs, created int64
	)
	err := sc.Scan(
		&run.ID, &run.Ticker, &run.Strategy, &run.Description, &params,
		&run.Options.InitialCapital, &run.Options.Commission, &run.Options.PositionSize,
		&m.TotalReturn, &m.AnnualReturn, &m.Volatility, &m.SharpeRatio, &m.MaxDrawdown, &m.WinRate, &m.NumTrades,
		&run.FinalEquity, &run.NumBars, &run.NumTrades, &startMs, &endMs, &created,
	)
	if err != nil {
		return nil, err
	}
	if params.Valid {
		run.Params = []byte(params.String)
	}
	run.Metrics = m
	run.Start = time.UnixMilli(startMs).UTC()
	run.End = time.UnixMilli(endMs).UTC()
	run.CreatedAt = time.UnixMilli(created).UTC()
	return &run, nil
}
