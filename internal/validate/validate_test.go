package validate

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"kestrel/internal/features"
	"kestrel/internal/util"
)

func validationFrame(t *testing.T, symbol string, closes, probs []float64) *features.Frame {
	t.Helper()
	dates := make([]time.Time, len(closes))
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range dates {
		dates[i] = base.AddDate(0, 0, i)
	}
	f := features.NewFrame(symbol, dates)
	if err := f.AddColumn(features.ColClose, closes); err != nil {
		t.Fatalf("AddColumn(close): %v", err)
	}
	if err := f.AddColumn(features.ColPredProb, probs); err != nil {
		t.Fatalf("AddColumn(pred_prob): %v", err)
	}
	return f
}

func testValidator(t *testing.T) *Validator {
	t.Helper()
	closes := []float64{100, 102, 101, 103, 104, 100}
	probs := []float64{0.8, 0.3, 0.65, 0.4, 0.2, 0.55}
	source := func(_ context.Context, symbol string) (*features.Frame, error) {
		if symbol != "AAPL" {
			return nil, errors.New("no data for " + symbol)
		}
		return validationFrame(t, "AAPL", closes, probs), nil
	}
	return New(source, 0, 0, util.NewLogger("error", ""))
}

func TestValidateSymbolGradesAgainstNextDay(t *testing.T) {
	v := testValidator(t)
	res, err := v.ValidateSymbol(context.Background(), "aapl", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ValidateSymbol: %v", err)
	}

	if res.Symbol != "AAPL" || res.Samples != 6 {
		t.Errorf("symbol/samples = %s/%d, want AAPL/6", res.Symbol, res.Samples)
	}
	// Last day has no realized next day; of the 5 scored, only the 0.4 on a
	// rising day misses.
	if res.Scored != 5 || res.Hits != 4 {
		t.Errorf("scored/hits = %d/%d, want 5/4", res.Scored, res.Hits)
	}
	if math.Abs(res.HitRate-0.8) > 1e-12 {
		t.Errorf("hit rate = %v, want 0.8", res.HitRate)
	}
	if res.PredictedUp != 3 || res.PredictedDown != 3 {
		t.Errorf("up/down = %d/%d, want 3/3", res.PredictedUp, res.PredictedDown)
	}
	if res.HighConfidenceUp != 1 || res.HighConfidenceDown != 1 || res.MediumConfidence != 4 {
		t.Errorf("confidence bands = %d/%d/%d, want 1/1/4",
			res.HighConfidenceUp, res.HighConfidenceDown, res.MediumConfidence)
	}
	if want := 2.9 / 6; math.Abs(res.AvgProbability-want) > 1e-12 {
		t.Errorf("avg probability = %v, want %v", res.AvgProbability, want)
	}
}

func TestValidateSymbolSignalThresholds(t *testing.T) {
	v := testValidator(t)
	res, err := v.ValidateSymbol(context.Background(), "AAPL", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ValidateSymbol: %v", err)
	}

	// 0.8 and 0.65 buy, 0.3 and 0.2 sell; 0.4 sits exactly on the sell
	// threshold and 0.55 inside the band, both hold.
	if res.BuySignals != 2 || res.SellSignals != 2 || res.HoldSignals != 2 {
		t.Fatalf("signals = %d/%d/%d, want 2/2/2", res.BuySignals, res.SellSignals, res.HoldSignals)
	}
	first := res.Signals[0]
	if first.Action != ActionBuy || first.Confidence != 0.8 {
		t.Errorf("first signal = %+v, want BUY with confidence 0.8", first)
	}
	sell := res.Signals[1]
	if sell.Action != ActionSell || math.Abs(sell.Confidence-0.7) > 1e-12 {
		t.Errorf("second signal = %+v, want SELL with confidence 0.7", sell)
	}
}

func TestValidateSymbolWindowFilter(t *testing.T) {
	v := testValidator(t)
	start := time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

	res, err := v.ValidateSymbol(context.Background(), "AAPL", start, end)
	if err != nil {
		t.Fatalf("ValidateSymbol: %v", err)
	}
	if res.Samples != 3 || !res.Start.Equal(start) || !res.End.Equal(end) {
		t.Errorf("window = %d rows %s..%s, want 3 rows %s..%s",
			res.Samples, res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"),
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
}

func TestValidateSymbolEmptyWindow(t *testing.T) {
	v := testValidator(t)
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := v.ValidateSymbol(context.Background(), "AAPL", start, time.Time{}); err == nil {
		t.Error("expected error for a window outside the stored history")
	}
}

func TestValidateBatchContinuesPastFailures(t *testing.T) {
	v := testValidator(t)
	sum := v.ValidateBatch(context.Background(), []string{"aapl", "msft"}, time.Time{}, time.Time{})

	if sum.Succeeded != 1 || sum.Failed != 1 {
		t.Fatalf("succeeded/failed = %d/%d, want 1/1", sum.Succeeded, sum.Failed)
	}
	if sum.Results["AAPL"].Status != "ok" {
		t.Errorf("AAPL status = %q, want ok", sum.Results["AAPL"].Status)
	}
	failed := sum.Results["MSFT"]
	if failed.Status != "error" || failed.Error == "" {
		t.Errorf("MSFT result = %+v, want recorded failure", failed)
	}
}

func TestValidateBatchCancelledContext(t *testing.T) {
	v := testValidator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := v.ValidateBatch(ctx, []string{"AAPL"}, time.Time{}, time.Time{})
	if len(sum.Results) != 0 {
		t.Errorf("cancelled batch validated %d symbols, want 0", len(sum.Results))
	}
}

func TestWriteAndLatestSummary(t *testing.T) {
	dir := t.TempDir()

	name, count, err := LatestSummary(dir)
	if err != nil || name != "" || count != 0 {
		t.Fatalf("LatestSummary(empty) = %q/%d/%v, want empty", name, count, err)
	}

	v := testValidator(t)
	first := v.ValidateBatch(context.Background(), []string{"AAPL"}, time.Time{}, time.Time{})
	first.GeneratedAt = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if _, err := WriteSummary(dir, first); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}

	second := v.ValidateBatch(context.Background(), []string{"AAPL"}, time.Time{}, time.Time{})
	second.GeneratedAt = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	path, err := WriteSummary(dir, second)
	if err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}

	name, count, err = LatestSummary(dir)
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	want := "historical_validation_summary_20250602_100000.json"
	if name != want {
		t.Errorf("latest = %q, want %q", name, want)
	}
	if filepath.Base(path) != want {
		t.Errorf("WriteSummary path = %q, want base %q", path, want)
	}
}
