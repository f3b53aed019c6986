// Package predict projects a trained scorer forward over the next few
// trading days by rolling feature perturbation: each day's predicted
// direction nudges the price-derived features before the next day is scored.
// The projection is a heuristic, not a simulation of future bars.
package predict

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"kestrel/internal/features"
	"kestrel/internal/model"
)

// MaxHorizon caps the forward projection; beyond a few days the rolled
// features carry no information.
const MaxHorizon = 5

// DefaultConfidenceThreshold separates actionable signals from holds.
const DefaultConfidenceThreshold = 0.6

// Signal is the trading action derived from one day's projection.
type Signal string

// Projection signals.
const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// DayPrediction is the projection for a single future trading day.
type DayPrediction struct {
	Date        time.Time `json:"date"`
	Direction   int       `json:"prediction"` // 1 up, 0 down
	Probability float64   `json:"probability"`
	Confidence  float64   `json:"confidence"`
	Signal      Signal    `json:"action"`
	Strong      bool      `json:"strong"`
}

// Forecast is the full multi-day projection for one symbol.
type Forecast struct {
	Symbol      string          `json:"symbol"`
	GeneratedAt time.Time       `json:"generated_at"`
	Horizon     int             `json:"horizon"`
	Days        []DayPrediction `json:"predictions"`
}

// Feature columns nudged between projected days.
var priceColumns = []string{
	features.ColOpen,
	features.ColHigh,
	features.ColLow,
	features.ColClose,
}

const (
	rsiColumn  = "rsi14"
	macdColumn = "macd_dif"
)

// Predictor rolls a scorer forward from the latest feature row.
type Predictor struct {
	scorer    model.Scorer
	threshold float64
	log       *slog.Logger
}

// New creates a predictor. A zero threshold uses the default.
func New(scorer model.Scorer, confidenceThreshold float64, log *slog.Logger) *Predictor {
	if confidenceThreshold == 0 {
		confidenceThreshold = DefaultConfidenceThreshold
	}
	if log == nil {
		log = slog.Default()
	}
	return &Predictor{scorer: scorer, threshold: confidenceThreshold, log: log}
}

// PredictNextDays projects horizon trading days forward from the frame's
// last row. Projected dates start on the first trading day after `from`,
// skipping weekends. A horizon above MaxHorizon is clamped.
func (p *Predictor) PredictNextDays(frame *features.Frame, from time.Time, horizon int) (*Forecast, error) {
	if frame.Len() == 0 {
		return nil, fmt.Errorf("predicting %s: frame is empty", frame.Symbol)
	}
	if horizon < 1 {
		return nil, fmt.Errorf("predicting %s: horizon must be at least 1", frame.Symbol)
	}
	if horizon > MaxHorizon {
		p.log.Warn("requested horizon exceeds maximum, clamping",
			"symbol", frame.Symbol, "requested", horizon, "max", MaxHorizon)
		horizon = MaxHorizon
	}

	row, err := latestRow(frame)
	if err != nil {
		return nil, err
	}
	names := p.scorer.FeatureNames()
	for _, n := range names {
		v, ok := row[n]
		if !ok {
			return nil, fmt.Errorf("predicting %s: frame lacks model feature %q", frame.Symbol, n)
		}
		if math.IsNaN(v) {
			return nil, fmt.Errorf("predicting %s: latest value of %q is NaN", frame.Symbol, n)
		}
	}

	dates := nextTradingDays(from, horizon)
	forecast := &Forecast{
		Symbol:      frame.Symbol,
		GeneratedAt: time.Now().UTC(),
		Horizon:     horizon,
		Days:        make([]DayPrediction, 0, horizon),
	}

	for i := 0; i < horizon; i++ {
		vec := make([]float64, len(names))
		for j, n := range names {
			vec[j] = row[n]
		}
		probUp, err := p.scorer.Score(vec)
		if err != nil {
			return nil, fmt.Errorf("predicting %s day %d: %w", frame.Symbol, i+1, err)
		}

		day := classify(dates[i], probUp, p.threshold)
		forecast.Days = append(forecast.Days, day)

		// Nudge the features toward the predicted direction before the
		// next day is scored.
		perturb(row, day.Direction == 1, day.Probability)
	}
	return forecast, nil
}

// classify turns an up-probability into a day prediction. The reported
// probability is that of the predicted direction, so it is always >= 0.5.
func classify(date time.Time, probUp, threshold float64) DayPrediction {
	day := DayPrediction{Date: date}
	if probUp > 1-probUp {
		day.Direction = 1
		day.Probability = probUp
	} else {
		day.Probability = 1 - probUp
	}
	day.Confidence = day.Probability

	day.Strong = day.Probability > threshold
	switch {
	case day.Direction == 1 && day.Strong:
		day.Signal = SignalBuy
	case day.Direction == 0 && day.Strong:
		day.Signal = SignalSell
	default:
		day.Signal = SignalHold
	}
	return day
}

// perturb adjusts the feature row in place to mimic one day moving in the
// predicted direction. Price columns shift 1-3% scaled by the prediction's
// probability; the RSI and MACD columns drift the same way within bounds.
func perturb(row map[string]float64, up bool, prob float64) {
	if up {
		factor := 1 + (0.01 + prob*0.02)
		for _, col := range priceColumns {
			if v, ok := row[col]; ok {
				row[col] = v * factor
			}
		}
		if v, ok := row[rsiColumn]; ok {
			row[rsiColumn] = math.Min(70, v+5)
		}
		if v, ok := row[macdColumn]; ok {
			row[macdColumn] = v * 1.1
		}
		return
	}

	factor := 1 - (0.01 + (1-prob)*0.02)
	for _, col := range priceColumns {
		if v, ok := row[col]; ok {
			row[col] = v * factor
		}
	}
	if v, ok := row[rsiColumn]; ok {
		row[rsiColumn] = math.Max(30, v-5)
	}
	if v, ok := row[macdColumn]; ok {
		row[macdColumn] = v * 0.9
	}
}

// latestRow extracts the frame's last row as a name → value map.
func latestRow(frame *features.Frame) (map[string]float64, error) {
	names := frame.Columns()
	vals, err := frame.Row(frame.Len()-1, names)
	if err != nil {
		return nil, err
	}
	row := make(map[string]float64, len(names))
	for i, n := range names {
		row[n] = vals[i]
	}
	return row, nil
}

// nextTradingDays returns the next n weekdays strictly after from. Exchange
// holidays are not modeled.
func nextTradingDays(from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	d := from
	for len(out) < n {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		out = append(out, time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC))
	}
	return out
}
