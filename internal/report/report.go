// Package report aggregates per-symbol backtest results into a comparison
// report and persists result documents as JSON files.
package report

import (
	"math"
	"sort"
	"time"

	"kestrel/internal/backtest"
)

// MetricSummary holds the cross-symbol statistics for one metric.
type MetricSummary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// StrategySummary aggregates each reported metric across symbols.
type StrategySummary struct {
	TotalReturn MetricSummary `json:"total_return"`
	Sharpe      MetricSummary `json:"sharpe"`
	MaxDrawdown MetricSummary `json:"max_drawdown"`
	WinRate     MetricSummary `json:"win_rate"`
}

// Comparison is the aggregated cross-symbol report for one batch run.
type Comparison struct {
	GeneratedAt    time.Time         `json:"generated_at"`
	Symbols        []string          `json:"symbols"`
	Succeeded      int               `json:"succeeded"`
	Failed         int               `json:"failed"`
	ML             StrategySummary   `json:"ml_strategy"`
	Baseline       StrategySummary   `json:"baseline_strategy"`
	PositiveExcess int               `json:"positive_excess"`
	NegativeExcess int               `json:"negative_excess"`
	Failures       map[string]string `json:"failures,omitempty"`
}

// Build aggregates a batch result map into a comparison report. Failed
// symbols contribute to the failure listing but not to the statistics.
// Excess-return counts tally symbols where the ML strategy beat (or trailed)
// the baseline.
func Build(results map[string]*backtest.SymbolResult) *Comparison {
	c := &Comparison{GeneratedAt: time.Now().UTC()}

	var ok []*backtest.SymbolResult
	for _, res := range results {
		c.Symbols = append(c.Symbols, res.Symbol)
		if res.Status != backtest.StatusOK {
			c.Failed++
			if c.Failures == nil {
				c.Failures = make(map[string]string)
			}
			c.Failures[res.Symbol] = res.Error
			continue
		}
		c.Succeeded++
		ok = append(ok, res)

		switch {
		case res.ExcessReturn > 0:
			c.PositiveExcess++
		case res.ExcessReturn < 0:
			c.NegativeExcess++
		}
	}
	sort.Strings(c.Symbols)

	c.ML = StrategySummary{
		TotalReturn: summarize(ok, func(r *backtest.SymbolResult) float64 { return r.ML.TotalReturn }),
		Sharpe:      summarize(ok, func(r *backtest.SymbolResult) float64 { return r.ML.Sharpe }),
		MaxDrawdown: summarize(ok, func(r *backtest.SymbolResult) float64 { return r.ML.MaxDrawdown }),
		WinRate:     summarize(ok, func(r *backtest.SymbolResult) float64 { return r.ML.WinRate }),
	}
	c.Baseline = StrategySummary{
		TotalReturn: summarize(ok, func(r *backtest.SymbolResult) float64 { return r.Baseline.TotalReturn }),
		Sharpe:      summarize(ok, func(r *backtest.SymbolResult) float64 { return r.Baseline.Sharpe }),
		MaxDrawdown: summarize(ok, func(r *backtest.SymbolResult) float64 { return r.Baseline.MaxDrawdown }),
		WinRate:     summarize(ok, func(r *backtest.SymbolResult) float64 { return r.Baseline.WinRate }),
	}
	return c
}

// summarize computes mean, population standard deviation, min, and max of
// one metric across the successful results.
func summarize(results []*backtest.SymbolResult, metric func(*backtest.SymbolResult) float64) MetricSummary {
	if len(results) == 0 {
		return MetricSummary{}
	}

	s := MetricSummary{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, r := range results {
		v := metric(r)
		s.Mean += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean /= float64(len(results))

	var ss float64
	for _, r := range results {
		d := metric(r) - s.Mean
		ss += d * d
	}
	s.Std = math.Sqrt(ss / float64(len(results)))
	return s
}
