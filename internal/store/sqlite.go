package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"kestrel/internal/backtest"
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore backed by a SQLite database. Results
// are append-only: each run is a new row keyed by its run ID.
type SQLiteStore struct {
	db *sql.DB
}

const resultsSchema = `
CREATE TABLE IF NOT EXISTS backtest_results (
	run_id        TEXT PRIMARY KEY,
	symbol        TEXT NOT NULL,
	run_at        TEXT NOT NULL,
	start_date    TEXT NOT NULL,
	end_date      TEXT NOT NULL,
	records       INTEGER NOT NULL,
	status        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	params        TEXT NOT NULL,
	ml            TEXT NOT NULL,
	baseline      TEXT NOT NULL,
	excess_return REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_symbol_run_at
	ON backtest_results(symbol, run_at DESC);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(resultsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying results schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult inserts one per-symbol backtest result. Saving the same run ID
// twice replaces the row.
func (s *SQLiteStore) SaveResult(ctx context.Context, res *backtest.SymbolResult) error {
	params, err := json.Marshal(res.Params)
	if err != nil {
		return err
	}
	ml, err := json.Marshal(res.ML)
	if err != nil {
		return err
	}
	baseline, err := json.Marshal(res.Baseline)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_results
			(run_id, symbol, run_at, start_date, end_date, records,
			 status, error, params, ml, baseline, excess_return)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID,
		strings.ToUpper(res.Symbol),
		res.Timestamp.UTC().Format(time.RFC3339Nano),
		res.StartDate.UTC().Format(time.RFC3339Nano),
		res.EndDate.UTC().Format(time.RFC3339Nano),
		res.Records,
		res.Status,
		res.Error,
		string(params),
		string(ml),
		string(baseline),
		res.ExcessReturn,
	)
	if err != nil {
		return fmt.Errorf("saving result %s for %s: %w", res.RunID, res.Symbol, err)
	}
	return nil
}

// ListResults returns all stored results for a symbol, newest first.
func (s *SQLiteStore) ListResults(ctx context.Context, symbol string) ([]backtest.SymbolResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, symbol, run_at, start_date, end_date, records,
		       status, error, params, ml, baseline, excess_return
		FROM backtest_results
		WHERE symbol = ?
		ORDER BY run_at DESC`,
		strings.ToUpper(symbol))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

// LatestResults returns the most recent stored result per symbol, ordered by
// symbol.
func (s *SQLiteStore) LatestResults(ctx context.Context) ([]backtest.SymbolResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, symbol, run_at, start_date, end_date, records,
		       status, error, params, ml, baseline, excess_return
		FROM backtest_results r
		WHERE run_at = (
			SELECT MAX(run_at) FROM backtest_results WHERE symbol = r.symbol
		)
		ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

func scanResults(rows *sql.Rows) ([]backtest.SymbolResult, error) {
	var out []backtest.SymbolResult
	for rows.Next() {
		var res backtest.SymbolResult
		var runAt, startDate, endDate string
		var paramsJSON, mlJSON, bJSON string
		if err := rows.Scan(
			&res.RunID, &res.Symbol, &runAt, &startDate, &endDate, &res.Records,
			&res.Status, &res.Error, &paramsJSON, &mlJSON, &bJSON, &res.ExcessReturn,
		); err != nil {
			return nil, err
		}

		var err error
		if res.Timestamp, err = time.Parse(time.RFC3339Nano, runAt); err != nil {
			return nil, fmt.Errorf("parsing run_at %q: %w", runAt, err)
		}
		if res.StartDate, err = time.Parse(time.RFC3339Nano, startDate); err != nil {
			return nil, fmt.Errorf("parsing start_date %q: %w", startDate, err)
		}
		if res.EndDate, err = time.Parse(time.RFC3339Nano, endDate); err != nil {
			return nil, fmt.Errorf("parsing end_date %q: %w", endDate, err)
		}
		if err := json.Unmarshal([]byte(paramsJSON), &res.Params); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mlJSON), &res.ML); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(bJSON), &res.Baseline); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
