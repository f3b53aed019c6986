// Package signal provides the per-bar signal sources the backtest engine
// steps through: a precomputed model-probability series and a moving-average
// crossover pair. Both are pure lookups over precomputed arrays.
package signal

import (
	"math"

	"kestrel/internal/features"
)

// NeutralProb is the fallback probability when no prediction is available.
const NeutralProb = 0.5

// degenerateTol bounds how far a series may sit from 0.5 and still be
// considered degenerate.
const degenerateTol = 0.001

// ProbSeries exposes a per-bar up-probability by sequential index.
type ProbSeries struct {
	probs []float64
}

// NewProbSeries wraps a precomputed probability array. A nil or empty array
// is valid and yields the neutral default for every index.
func NewProbSeries(probs []float64) *ProbSeries {
	return &ProbSeries{probs: probs}
}

// Len returns the number of stored probabilities.
func (p *ProbSeries) Len() int { return len(p.probs) }

// At returns the probability for bar index i. Out-of-range indices clamp to
// the nearest valid entry; an empty series returns NeutralProb. The clamping
// mirrors the upstream tolerance for probability arrays that were built with
// a different row count than the bar series.
func (p *ProbSeries) At(i int) float64 {
	if len(p.probs) == 0 {
		return NeutralProb
	}
	if i < 0 {
		i = 0
	}
	if i >= len(p.probs) {
		i = len(p.probs) - 1
	}
	return p.probs[i]
}

// Degenerate reports whether every probability sits within degenerateTol of
// the neutral value, which indicates an upstream model or feature problem.
// An empty series is degenerate by definition.
func (p *ProbSeries) Degenerate() bool {
	for _, v := range p.probs {
		if math.Abs(v-NeutralProb) > degenerateTol {
			return false
		}
	}
	return true
}

// CrossoverSeries exposes fast/slow simple moving averages of the close
// series. Values are NaN until the corresponding window has filled; callers
// treat NaN as "no signal".
type CrossoverSeries struct {
	fast []float64
	slow []float64
}

// NewCrossoverSeries computes the fast and slow SMAs over closes.
func NewCrossoverSeries(closes []float64, fastPeriod, slowPeriod int) *CrossoverSeries {
	return &CrossoverSeries{
		fast: features.SMA(closes, fastPeriod),
		slow: features.SMA(closes, slowPeriod),
	}
}

// At returns the (fast, slow) pair for bar index i. Either value may be NaN
// inside its warmup window.
func (c *CrossoverSeries) At(i int) (fast, slow float64) {
	if i < 0 || i >= len(c.fast) {
		return math.NaN(), math.NaN()
	}
	return c.fast[i], c.slow[i]
}

// GoldenCross reports whether the fast average crossed above the slow
// average at bar i. NaN warmup values never produce a cross because every
// comparison with NaN is false.
func (c *CrossoverSeries) GoldenCross(i int) bool {
	if i < 1 || i >= len(c.fast) {
		return false
	}
	return c.fast[i] > c.slow[i] && c.fast[i-1] <= c.slow[i-1]
}

// DeathCross reports whether the fast average crossed below the slow average
// at bar i.
func (c *CrossoverSeries) DeathCross(i int) bool {
	if i < 1 || i >= len(c.fast) {
		return false
	}
	return c.fast[i] < c.slow[i] && c.fast[i-1] >= c.slow[i-1]
}
