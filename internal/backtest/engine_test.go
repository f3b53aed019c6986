package backtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"kestrel/internal/features"
	"kestrel/internal/util"
)

func testParams() Params {
	return Params{
		Cash:        100000,
		Commission:  0.0008,
		MLThreshold: 0.51,
		FastPeriod:  5,
		SlowPeriod:  20,
	}
}

// testFrame builds a minimal backtest input table: OHLCV columns derived
// from the close series plus an optional pred_prob column.
func testFrame(t *testing.T, symbol string, closes, probs []float64) *features.Frame {
	t.Helper()

	dates := make([]time.Time, len(closes))
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range dates {
		dates[i] = base.AddDate(0, 0, i)
	}

	open := make([]float64, len(closes))
	high := make([]float64, len(closes))
	low := make([]float64, len(closes))
	volume := make([]float64, len(closes))
	for i, c := range closes {
		open[i] = c
		high[i] = c + 1
		low[i] = c - 1
		volume[i] = 1e6
	}

	f := features.NewFrame(symbol, dates)
	col := func(name string, vals []float64) {
		if err := f.AddColumn(name, vals); err != nil {
			t.Fatalf("AddColumn(%s): %v", name, err)
		}
	}
	col(features.ColOpen, open)
	col(features.ColHigh, high)
	col(features.ColLow, low)
	col(features.ColClose, closes)
	col(features.ColVolume, volume)
	if probs != nil {
		col(features.ColPredProb, probs)
	}
	return f
}

func testEngine(params Params) *Engine {
	return NewEngine(params, util.NewLogger("error", ""))
}

func TestRunMLBuySellCycle(t *testing.T) {
	// Buy fills at bar 0 (prob 0.6 > 0.51), holds through bar 1, sells at
	// bar 2 close 102 (prob 0.4 <= 0.51). One completed winning trade.
	frame := testFrame(t, "AAPL",
		[]float64{100, 101, 102, 103, 102},
		[]float64{0.6, 0.6, 0.4, 0.4, 0.4})

	res, err := testEngine(testParams()).Run(frame)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.ML.TradeCount != 1 || res.ML.WinCount != 1 {
		t.Errorf("ML trades/wins = %d/%d, want 1/1", res.ML.TradeCount, res.ML.WinCount)
	}
	if res.ML.WinRate != 100 {
		t.Errorf("ML win rate = %v, want 100", res.ML.WinRate)
	}

	// Buy at 100, sell at 102, commission 0.0008 both ways.
	wantReturn := (102*(1-0.0008) - 100*(1+0.0008)) / 100000
	if math.Abs(res.ML.TotalReturn-wantReturn) > 1e-12 {
		t.Errorf("ML total return = %v, want %v", res.ML.TotalReturn, wantReturn)
	}

	// Tiny positive return clamps to the ML drawdown minimum.
	if res.ML.MaxDrawdown != 0.005 {
		t.Errorf("ML max drawdown = %v, want 0.005", res.ML.MaxDrawdown)
	}

	// Five bars never fill the 20-bar slow window: baseline stays flat.
	if res.Baseline.TradeCount != 0 || res.Baseline.TotalReturn != 0 {
		t.Errorf("baseline = %+v, want no trades inside MA warmup", res.Baseline)
	}

	if res.Status != StatusOK {
		t.Errorf("status = %q, want %q", res.Status, StatusOK)
	}
	if res.Records != 5 {
		t.Errorf("records = %d, want 5", res.Records)
	}
	if res.RunID == "" {
		t.Error("result has no run ID")
	}
	if !res.StartDate.Equal(frame.Dates[0]) || !res.EndDate.Equal(frame.Dates[4]) {
		t.Errorf("date range = %s..%s, want frame bounds", res.StartDate, res.EndDate)
	}
	if got := res.ExcessReturn; math.Abs(got-(res.ML.TotalReturn-res.Baseline.TotalReturn)) > 1e-15 {
		t.Errorf("excess return = %v, inconsistent with strategy returns", got)
	}
}

func TestRunBoundaryProbabilityAtThreshold(t *testing.T) {
	// Buy rule is strict: prob == threshold never opens a position.
	flat := testFrame(t, "AAPL",
		[]float64{100, 101, 102},
		[]float64{0.51, 0.51, 0.51})
	res, err := testEngine(testParams()).Run(flat)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ML.TradeCount != 0 || res.ML.TotalReturn != 0 {
		t.Errorf("prob == threshold opened a position: %+v", res.ML)
	}

	// Exit rule is non-strict: prob == threshold closes an open position.
	exits := testFrame(t, "AAPL",
		[]float64{100, 102, 103},
		[]float64{0.6, 0.51, 0.51})
	res, err = testEngine(testParams()).Run(exits)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ML.TradeCount != 1 || res.ML.WinCount != 1 {
		t.Errorf("prob == threshold did not close the position: %+v", res.ML)
	}
}

func TestRunBaselineStopLoss(t *testing.T) {
	// Golden cross (fast 2 / slow 3) fires at bar 4, buying at 100. Bar 5
	// closes at 94 with the fast average still above the slow one, so only
	// the 5% hard stop can close the position.
	params := testParams()
	params.FastPeriod = 2
	params.SlowPeriod = 3

	closes := []float64{100, 90, 80, 85, 100, 94}
	probs := []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
	res, err := testEngine(params).Run(testFrame(t, "AAPL", closes, probs))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Baseline.TradeCount != 1 {
		t.Fatalf("baseline trades = %d, want 1 stop-loss exit", res.Baseline.TradeCount)
	}
	if res.Baseline.WinCount != 0 {
		t.Errorf("stop-loss exit below entry counted as a win")
	}
	if res.Baseline.TotalReturn >= 0 {
		t.Errorf("baseline total return = %v, want negative", res.Baseline.TotalReturn)
	}

	// Neutral probabilities never exceed the threshold.
	if res.ML.TradeCount != 0 {
		t.Errorf("ML traded %d times on neutral probabilities", res.ML.TradeCount)
	}
}

func TestRunMissingColumn(t *testing.T) {
	frame := testFrame(t, "AAPL",
		[]float64{100, 101, 102},
		[]float64{0.6, 0.6, 0.6})
	// Rebuild without volume.
	bad := features.NewFrame(frame.Symbol, frame.Dates)
	for _, name := range frame.Columns() {
		if name == features.ColVolume {
			continue
		}
		vals, _ := frame.Column(name)
		if err := bad.AddColumn(name, vals); err != nil {
			t.Fatalf("AddColumn: %v", err)
		}
	}

	_, err := testEngine(testParams()).Run(bad)
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("Run error = %v, want ErrMissingColumn", err)
	}
}

func TestRunEmptyRange(t *testing.T) {
	params := testParams()
	params.Start = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	frame := testFrame(t, "AAPL",
		[]float64{100, 101, 102},
		[]float64{0.6, 0.6, 0.6})
	_, err := testEngine(params).Run(frame)
	if !errors.Is(err, ErrEmptyRange) {
		t.Fatalf("Run error = %v, want ErrEmptyRange", err)
	}
}

func TestRunOpenPositionExcludedFromCounts(t *testing.T) {
	// High probability throughout: the buy fills at bar 0 and the position
	// is still open when the bars run out. No completed trades, so every
	// derived metric is zero, and the unsold position is not marked to
	// market.
	frame := testFrame(t, "AAPL",
		[]float64{100, 110, 120},
		[]float64{0.9, 0.9, 0.9})
	res, err := testEngine(testParams()).Run(frame)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.ML.TradeCount != 0 || res.ML.WinCount != 0 {
		t.Errorf("open position counted as a trade: %+v", res.ML)
	}
	if res.ML.Sharpe != 0 || res.ML.MaxDrawdown != 0 || res.ML.WinRate != 0 {
		t.Errorf("zero-trade run has nonzero derived metrics: %+v", res.ML)
	}
	if res.ML.TotalReturn >= 0 {
		t.Errorf("total return = %v, want negative while cash is tied up", res.ML.TotalReturn)
	}
}

func TestRunInvariants(t *testing.T) {
	// A mixed series exercising several entries and exits.
	closes := []float64{100, 103, 99, 104, 98, 107, 95, 101, 100, 99}
	probs := []float64{0.7, 0.4, 0.8, 0.3, 0.9, 0.2, 0.6, 0.5, 0.7, 0.1}
	res, err := testEngine(testParams()).Run(testFrame(t, "AAPL", closes, probs))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, m := range []StrategyMetrics{res.ML, res.Baseline} {
		if m.WinCount < 0 || m.TradeCount < m.WinCount {
			t.Errorf("counter invariant violated: trades=%d wins=%d", m.TradeCount, m.WinCount)
		}
	}
}

func TestRunBatchContinuesPastFailures(t *testing.T) {
	good := testFrame(t, "AAPL",
		[]float64{100, 101, 102},
		[]float64{0.6, 0.6, 0.4})

	source := func(_ context.Context, symbol string) (*features.Frame, error) {
		if symbol == "MSFT" {
			return nil, errors.New("no data for MSFT")
		}
		return good, nil
	}

	results := testEngine(testParams()).RunBatch(context.Background(), []string{"aapl", "MSFT", "AAPL"}, source)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (symbols are upper-cased and deduped by key)", len(results))
	}
	if got := results["AAPL"]; got == nil || got.Status != StatusOK {
		t.Errorf("AAPL result = %+v, want ok", got)
	}
	failed := results["MSFT"]
	if failed == nil || failed.Status != StatusError {
		t.Fatalf("MSFT result = %+v, want error status", failed)
	}
	if failed.Error == "" {
		t.Error("failed result carries no reason")
	}
}

func TestRunBatchHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	source := func(context.Context, string) (*features.Frame, error) {
		calls++
		return nil, errors.New("unreachable")
	}
	results := testEngine(testParams()).RunBatch(ctx, []string{"AAPL", "MSFT"}, source)
	if calls != 0 || len(results) != 0 {
		t.Errorf("cancelled batch still ran: %d calls, %d results", calls, len(results))
	}
}
