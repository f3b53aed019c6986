package report

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kestrel/internal/backtest"
	"kestrel/internal/util"
)

func fixtureResults() map[string]*backtest.SymbolResult {
	ts := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	return map[string]*backtest.SymbolResult{
		"AAPL": {
			RunID:        "run-1",
			Symbol:       "AAPL",
			Timestamp:    ts,
			ML:           backtest.StrategyMetrics{TotalReturn: 0.10, Sharpe: 0.14, MaxDrawdown: 0.03, WinRate: 75, TradeCount: 4, WinCount: 3},
			Baseline:     backtest.StrategyMetrics{TotalReturn: 0.04, Sharpe: 0.05, MaxDrawdown: 0.016, WinRate: 50, TradeCount: 2, WinCount: 1},
			ExcessReturn: 0.06,
			Status:       backtest.StatusOK,
		},
		"MSFT": {
			RunID:        "run-2",
			Symbol:       "MSFT",
			Timestamp:    ts,
			ML:           backtest.StrategyMetrics{TotalReturn: 0.02, Sharpe: 0.02, MaxDrawdown: 0.006, WinRate: 50, TradeCount: 2, WinCount: 1},
			Baseline:     backtest.StrategyMetrics{TotalReturn: 0.05, Sharpe: 0.06, MaxDrawdown: 0.02, WinRate: 100, TradeCount: 1, WinCount: 1},
			ExcessReturn: -0.03,
			Status:       backtest.StatusOK,
		},
		"GOOG": {
			RunID:     "run-3",
			Symbol:    "GOOG",
			Timestamp: ts,
			Status:    backtest.StatusError,
			Error:     "no data for GOOG",
		},
	}
}

func TestBuildComparison(t *testing.T) {
	c := Build(fixtureResults())

	if c.Succeeded != 2 || c.Failed != 1 {
		t.Fatalf("succeeded/failed = %d/%d, want 2/1", c.Succeeded, c.Failed)
	}
	if len(c.Symbols) != 3 || c.Symbols[0] != "AAPL" {
		t.Errorf("symbols = %v, want sorted list of 3", c.Symbols)
	}
	if c.Failures["GOOG"] != "no data for GOOG" {
		t.Errorf("failures = %v", c.Failures)
	}
	if c.PositiveExcess != 1 || c.NegativeExcess != 1 {
		t.Errorf("excess counts = %d/%d, want 1/1", c.PositiveExcess, c.NegativeExcess)
	}

	// ML total return over {0.10, 0.02}: mean 0.06, population std 0.04.
	tr := c.ML.TotalReturn
	if math.Abs(tr.Mean-0.06) > 1e-12 || math.Abs(tr.Std-0.04) > 1e-12 {
		t.Errorf("ML return mean/std = %v/%v, want 0.06/0.04", tr.Mean, tr.Std)
	}
	if tr.Min != 0.02 || tr.Max != 0.10 {
		t.Errorf("ML return min/max = %v/%v, want 0.02/0.10", tr.Min, tr.Max)
	}

	if c.Baseline.WinRate.Max != 100 {
		t.Errorf("baseline win rate max = %v, want 100", c.Baseline.WinRate.Max)
	}
}

func TestBuildAllFailed(t *testing.T) {
	c := Build(map[string]*backtest.SymbolResult{
		"AAPL": {Symbol: "AAPL", Status: backtest.StatusError, Error: "boom"},
	})
	if c.Succeeded != 0 || c.Failed != 1 {
		t.Fatalf("succeeded/failed = %d/%d", c.Succeeded, c.Failed)
	}
	if c.ML.TotalReturn != (MetricSummary{}) {
		t.Errorf("statistics over zero successes should be zero: %+v", c.ML.TotalReturn)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, util.NewLogger("error", ""))

	results := fixtureResults()
	path, err := w.WriteSymbolResult(results["AAPL"])
	if err != nil {
		t.Fatalf("WriteSymbolResult: %v", err)
	}
	if base := filepath.Base(path); !strings.HasPrefix(base, "AAPL_backtest_") || !strings.HasSuffix(base, ".json") {
		t.Errorf("unexpected result file name %q", base)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading result: %v", err)
	}
	var got backtest.SymbolResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RunID != "run-1" || got.ML.TotalReturn != 0.10 {
		t.Errorf("round-tripped result = %+v", got)
	}

	cpath, err := w.WriteComparison(Build(results))
	if err != nil {
		t.Fatalf("WriteComparison: %v", err)
	}
	var comp Comparison
	data, err = os.ReadFile(cpath)
	if err != nil {
		t.Fatalf("reading comparison: %v", err)
	}
	if err := json.Unmarshal(data, &comp); err != nil {
		t.Fatalf("unmarshal comparison: %v", err)
	}
	if comp.Succeeded != 2 || comp.Failed != 1 {
		t.Errorf("comparison lost counts: %+v", comp)
	}
}
