package signal

import (
	"math"
	"testing"
)

func TestProbSeriesClamping(t *testing.T) {
	s := NewProbSeries([]float64{0.2, 0.6, 0.8})

	cases := []struct {
		idx  int
		want float64
	}{
		{-1, 0.2}, // clamped low
		{0, 0.2},
		{1, 0.6},
		{2, 0.8},
		{3, 0.8},  // clamped high
		{99, 0.8}, // clamped high
	}
	for _, c := range cases {
		if got := s.At(c.idx); got != c.want {
			t.Errorf("At(%d) = %v, want %v", c.idx, got, c.want)
		}
	}
}

func TestProbSeriesEmptyDefaultsNeutral(t *testing.T) {
	for _, s := range []*ProbSeries{NewProbSeries(nil), NewProbSeries([]float64{})} {
		if got := s.At(0); got != NeutralProb {
			t.Errorf("empty series At(0) = %v, want %v", got, NeutralProb)
		}
		if !s.Degenerate() {
			t.Error("empty series should be degenerate")
		}
	}
}

func TestProbSeriesDegenerate(t *testing.T) {
	if !NewProbSeries([]float64{0.5, 0.5001, 0.4999}).Degenerate() {
		t.Error("series hugging 0.5 should be degenerate")
	}
	if NewProbSeries([]float64{0.5, 0.62, 0.5}).Degenerate() {
		t.Error("series with a real prediction should not be degenerate")
	}
}

func TestCrossoverWarmupIsNoSignal(t *testing.T) {
	closes := []float64{1, 2, 3, 4}
	c := NewCrossoverSeries(closes, 2, 3)

	fast, slow := c.At(0)
	if !math.IsNaN(fast) || !math.IsNaN(slow) {
		t.Errorf("At(0) = (%v, %v), want NaN warmup values", fast, slow)
	}
	for i := 0; i < len(closes); i++ {
		if c.GoldenCross(i) && i < 2 {
			t.Errorf("GoldenCross(%d) fired inside warmup", i)
		}
	}
}

func TestGoldenAndDeathCross(t *testing.T) {
	// Down-trend then sharp reversal: fast(2) crosses above slow(3), later
	// back below when the series rolls over.
	closes := []float64{10, 9, 8, 7, 6, 9, 12, 12, 6, 2}
	c := NewCrossoverSeries(closes, 2, 3)

	var goldens, deaths []int
	for i := range closes {
		if c.GoldenCross(i) {
			goldens = append(goldens, i)
		}
		if c.DeathCross(i) {
			deaths = append(deaths, i)
		}
	}

	if len(goldens) == 0 {
		t.Fatal("expected at least one golden cross")
	}
	if len(deaths) == 0 {
		t.Fatal("expected at least one death cross")
	}
	if goldens[0] != 5 {
		t.Errorf("first golden cross at %d, want 5", goldens[0])
	}
	if deaths[0] <= goldens[0] {
		t.Errorf("death cross at %d should come after golden cross at %d", deaths[0], goldens[0])
	}
}
