// Package features derives technical-indicator columns from daily OHLCV
// bars. A Frame is a date-indexed table of named float64 columns, aligned
// 1:1 with the bars it was built from.
package features

import (
	"fmt"
	"math"
	"time"

	"kestrel/internal/domain"
)

// Base column names present in every frame.
const (
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"
	ColLabel  = "label"

	// ColPredProb is attached by the backtest orchestrator, not by Build.
	ColPredProb = "pred_prob"
)

// IndicatorColumns lists every derived column Build produces, in order.
var IndicatorColumns = []string{
	"pct_change",
	"ma5", "ma10", "ma20",
	"ma5_ratio", "ma10_ratio", "ma20_ratio",
	"ema12", "ema26",
	"macd_dif", "macd_dea", "macd_hist",
	"rsi14",
	"volatility_10", "volatility_20",
	"volume_ma5", "volume_ratio",
	"bb_upper", "bb_lower", "bb_position",
	"momentum_5", "momentum_10",
	"high_low_ratio", "open_close_ratio",
}

// Frame is a date-indexed table of named float64 columns.
type Frame struct {
	Symbol string
	Dates  []time.Time

	cols  map[string][]float64
	order []string
}

// NewFrame creates an empty frame over the given date index.
func NewFrame(symbol string, dates []time.Time) *Frame {
	return &Frame{
		Symbol: symbol,
		Dates:  dates,
		cols:   make(map[string][]float64),
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Dates) }

// AddColumn attaches a named column. The column must match the frame length;
// re-adding a name replaces its values.
func (f *Frame) AddColumn(name string, vals []float64) error {
	if len(vals) != len(f.Dates) {
		return fmt.Errorf("column %q has %d values, frame has %d rows", name, len(vals), len(f.Dates))
	}
	if _, exists := f.cols[name]; !exists {
		f.order = append(f.order, name)
	}
	f.cols[name] = vals
	return nil
}

// Column returns the named column and whether it exists.
func (f *Frame) Column(name string) ([]float64, bool) {
	c, ok := f.cols[name]
	return c, ok
}

// Columns returns the column names in insertion order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Missing returns the subset of names not present as columns.
func (f *Frame) Missing(names ...string) []string {
	var missing []string
	for _, n := range names {
		if _, ok := f.cols[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// Row collects the values of the named columns at row i.
func (f *Frame) Row(i int, names []string) ([]float64, error) {
	out := make([]float64, len(names))
	for j, n := range names {
		c, ok := f.cols[n]
		if !ok {
			return nil, fmt.Errorf("column %q not in frame", n)
		}
		out[j] = c[i]
	}
	return out, nil
}

// Slice returns a new frame restricted to rows with dates in [start, end].
// Zero start/end bounds are open.
func (f *Frame) Slice(start, end time.Time) *Frame {
	lo, hi := 0, len(f.Dates)
	for lo < hi && !start.IsZero() && f.Dates[lo].Before(start) {
		lo++
	}
	for hi > lo && !end.IsZero() && f.Dates[hi-1].After(end) {
		hi--
	}

	out := NewFrame(f.Symbol, f.Dates[lo:hi])
	for _, name := range f.order {
		_ = out.AddColumn(name, f.cols[name][lo:hi])
	}
	return out
}

// dropNaNRows removes every row where any column is NaN.
func (f *Frame) dropNaNRows() *Frame {
	keep := make([]int, 0, len(f.Dates))
rows:
	for i := range f.Dates {
		for _, name := range f.order {
			if math.IsNaN(f.cols[name][i]) {
				continue rows
			}
		}
		keep = append(keep, i)
	}

	dates := make([]time.Time, len(keep))
	for j, i := range keep {
		dates[j] = f.Dates[i]
	}
	out := NewFrame(f.Symbol, dates)
	for _, name := range f.order {
		src := f.cols[name]
		vals := make([]float64, len(keep))
		for j, i := range keep {
			vals[j] = src[i]
		}
		_ = out.AddColumn(name, vals)
	}
	return out
}

// Build derives the full indicator set from bars, sorted ascending by date,
// and drops the leading rows where any indicator is still inside its warmup
// window. Bars must be non-empty.
func Build(bars []domain.Bar) (*Frame, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("building features for %s: no bars", symbolOf(bars))
	}

	n := len(bars)
	dates := make([]time.Time, n)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, b := range bars {
		dates[i] = b.Timestamp
		open[i] = b.Open
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
		volume[i] = float64(b.Volume)
	}

	f := NewFrame(bars[0].Symbol, dates)
	must := func(name string, vals []float64) {
		if err := f.AddColumn(name, vals); err != nil {
			panic(err) // lengths are constructed equal
		}
	}

	must(ColOpen, open)
	must(ColHigh, high)
	must(ColLow, low)
	must(ColClose, closes)
	must(ColVolume, volume)

	pct := pctChange(closes, 1)
	must("pct_change", pct)

	ma5 := SMA(closes, 5)
	ma10 := SMA(closes, 10)
	ma20 := SMA(closes, 20)
	must("ma5", ma5)
	must("ma10", ma10)
	must("ma20", ma20)
	must("ma5_ratio", ratio(closes, ma5))
	must("ma10_ratio", ratio(closes, ma10))
	must("ma20_ratio", ratio(closes, ma20))

	ema12 := EMA(closes, 12)
	ema26 := EMA(closes, 26)
	dif := sub(ema12, ema26)
	dea := EMA(dif, 9)
	must("ema12", ema12)
	must("ema26", ema26)
	must("macd_dif", dif)
	must("macd_dea", dea)
	must("macd_hist", sub(dif, dea))

	must("rsi14", RSI(closes, 14))

	must("volatility_10", rollingStd(pct, 10))
	must("volatility_20", rollingStd(pct, 20))

	volMA5 := SMA(volume, 5)
	must("volume_ma5", volMA5)
	must("volume_ratio", ratio(volume, volMA5))

	std20 := rollingStd(closes, 20)
	upper := make([]float64, n)
	lower := make([]float64, n)
	bbPos := make([]float64, n)
	for i := 0; i < n; i++ {
		upper[i] = ma20[i] + 2*std20[i]
		lower[i] = ma20[i] - 2*std20[i]
		bbPos[i] = (closes[i] - lower[i]) / (upper[i] - lower[i])
	}
	must("bb_upper", upper)
	must("bb_lower", lower)
	must("bb_position", bbPos)

	must("momentum_5", pctChange(closes, 5))
	must("momentum_10", pctChange(closes, 10))

	hlr := make([]float64, n)
	ocr := make([]float64, n)
	for i := 0; i < n; i++ {
		hlr[i] = (high[i] - low[i]) / closes[i]
		ocr[i] = open[i] / closes[i]
	}
	must("high_low_ratio", hlr)
	must("open_close_ratio", ocr)

	return f.dropNaNRows(), nil
}

// WithLabel appends the binary next-bar label column: 1 when the next bar's
// close return exceeds threshold, 0 otherwise. The final row has no next bar
// and is marked NaN; consumers that train on the label drop it.
func (f *Frame) WithLabel(threshold float64) error {
	closes, ok := f.Column(ColClose)
	if !ok {
		return fmt.Errorf("frame has no %q column", ColClose)
	}
	n := len(closes)
	label := make([]float64, n)
	for i := 0; i < n; i++ {
		if i == n-1 {
			label[i] = math.NaN()
			continue
		}
		if closes[i+1]/closes[i]-1 > threshold {
			label[i] = 1
		}
	}
	return f.AddColumn(ColLabel, label)
}

func symbolOf(bars []domain.Bar) string {
	if len(bars) == 0 {
		return "?"
	}
	return bars[0].Symbol
}

// ---------------------------------------------------------------------------
// Indicator primitives. All return a slice aligned to the input, with NaN
// where the window has not yet filled.
// ---------------------------------------------------------------------------

// SMA computes the simple moving average over the given window.
func SMA(vals []float64, window int) []float64 {
	out := nanSlice(len(vals))
	if window <= 0 || len(vals) < window {
		return out
	}
	var sum float64
	for i, v := range vals {
		sum += v
		if i >= window {
			sum -= vals[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// EMA computes the span-parameterized exponential moving average with the
// adjusted weighting used by pandas' ewm(span=n).mean(). NaN inputs are
// skipped until the first real value appears.
func EMA(vals []float64, span int) []float64 {
	out := nanSlice(len(vals))
	alpha := 2.0 / (float64(span) + 1.0)

	var num, den float64
	started := false
	for i, v := range vals {
		if math.IsNaN(v) {
			if !started {
				continue
			}
			out[i] = num / den
			continue
		}
		if !started {
			num, den = v, 1
			started = true
		} else {
			num = v + (1-alpha)*num
			den = 1 + (1-alpha)*den
		}
		out[i] = num / den
	}
	return out
}

// RSI computes the relative strength index over the given window using
// simple moving averages of gains and losses.
func RSI(closes []float64, window int) []float64 {
	n := len(closes)
	gains := nanSlice(n)
	losses := nanSlice(n)
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i], losses[i] = d, 0
		} else {
			gains[i], losses[i] = 0, -d
		}
	}

	avgGain := SMA(gains[1:], window)
	avgLoss := SMA(losses[1:], window)

	out := nanSlice(n)
	for i := 0; i < n-1; i++ {
		g, l := avgGain[i], avgLoss[i]
		if math.IsNaN(g) || math.IsNaN(l) {
			continue
		}
		if l == 0 {
			out[i+1] = 100
			continue
		}
		rs := g / l
		out[i+1] = 100 - 100/(1+rs)
	}
	return out
}

// pctChange computes v[i]/v[i-periods] - 1, NaN for the first periods rows.
func pctChange(vals []float64, periods int) []float64 {
	out := nanSlice(len(vals))
	for i := periods; i < len(vals); i++ {
		out[i] = vals[i]/vals[i-periods] - 1
	}
	return out
}

// rollingStd computes the rolling sample standard deviation.
func rollingStd(vals []float64, window int) []float64 {
	out := nanSlice(len(vals))
	if window <= 1 {
		return out
	}
	for i := window - 1; i < len(vals); i++ {
		seg := vals[i-window+1 : i+1]
		var mean float64
		nan := false
		for _, v := range seg {
			if math.IsNaN(v) {
				nan = true
				break
			}
			mean += v
		}
		if nan {
			continue
		}
		mean /= float64(window)
		var ss float64
		for _, v := range seg {
			d := v - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(window-1))
	}
	return out
}

func ratio(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] / b[i]
	}
	return out
}

func sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
