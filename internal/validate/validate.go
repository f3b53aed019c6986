// Package validate replays a trained scorer over a held-out window of stored
// history and measures its signals against the realized next-day moves. It
// checks model quality on data the training never saw; it does not project
// future bars.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kestrel/internal/backtest"
	"kestrel/internal/features"
)

// Signal thresholds. Probabilities above the buy threshold signal BUY,
// below the sell threshold signal SELL; the band between is HOLD.
const (
	DefaultBuyThreshold  = 0.6
	DefaultSellThreshold = 0.4
)

// Confidence-band edges used in the probability distribution breakdown.
const (
	highConfidenceUp   = 0.7
	highConfidenceDown = 0.3
)

// Action is the signal derived from one validated day.
type Action string

// Validation signals.
const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// DaySignal is the signal the model would have issued on one historical day.
type DaySignal struct {
	Date        time.Time `json:"date"`
	Action      Action    `json:"action"`
	Probability float64   `json:"probability"`
	Confidence  float64   `json:"confidence"`
}

// SymbolValidation is the per-symbol outcome of one validation window.
// HitRate is the fraction of days whose predicted direction matched the
// realized next-day close move; the window's last day has no next day and is
// excluded from Scored.
type SymbolValidation struct {
	Symbol             string      `json:"symbol"`
	Start              time.Time   `json:"start_date"`
	End                time.Time   `json:"end_date"`
	Samples            int         `json:"samples"`
	AvgProbability     float64     `json:"avg_probability"`
	PredictedUp        int         `json:"predicted_up"`
	PredictedDown      int         `json:"predicted_down"`
	HighConfidenceUp   int         `json:"high_confidence_up"`
	HighConfidenceDown int         `json:"high_confidence_down"`
	MediumConfidence   int         `json:"medium_confidence"`
	BuySignals         int         `json:"buy_signals"`
	SellSignals        int         `json:"sell_signals"`
	HoldSignals        int         `json:"hold_signals"`
	Scored             int         `json:"scored"`
	Hits               int         `json:"hits"`
	HitRate            float64     `json:"hit_rate"`
	Signals            []DaySignal `json:"signals"`
	Status             string      `json:"status"`
	Error              string      `json:"error,omitempty"`
}

// Validator scores stored history through the same frame source the backtest
// engine uses and grades the resulting signals.
type Validator struct {
	source backtest.FrameSource
	buy    float64
	sell   float64
	log    *slog.Logger
}

// New creates a validator. Zero thresholds use the defaults.
func New(source backtest.FrameSource, buyThreshold, sellThreshold float64, log *slog.Logger) *Validator {
	if buyThreshold == 0 {
		buyThreshold = DefaultBuyThreshold
	}
	if sellThreshold == 0 {
		sellThreshold = DefaultSellThreshold
	}
	if log == nil {
		log = slog.Default()
	}
	return &Validator{source: source, buy: buyThreshold, sell: sellThreshold, log: log}
}

// ValidateSymbol grades one symbol over [start, end]. Zero bounds are open;
// the window must intersect the stored history.
func (v *Validator) ValidateSymbol(ctx context.Context, symbol string, start, end time.Time) (*SymbolValidation, error) {
	symbol = strings.ToUpper(symbol)

	frame, err := v.source(ctx, symbol)
	if err != nil {
		return nil, err
	}
	window := frame.Slice(start, end)
	if window.Len() == 0 {
		return nil, fmt.Errorf("%s has no rows in the validation window", symbol)
	}
	probs, ok := window.Column(features.ColPredProb)
	if !ok {
		return nil, fmt.Errorf("%s frame has no %s column", symbol, features.ColPredProb)
	}
	closes, _ := window.Column(features.ColClose)

	res := &SymbolValidation{
		Symbol:  symbol,
		Start:   window.Dates[0],
		End:     window.Dates[window.Len()-1],
		Samples: window.Len(),
		Signals: make([]DaySignal, 0, window.Len()),
		Status:  backtest.StatusOK,
	}

	var probSum float64
	for i, prob := range probs {
		probSum += prob

		if prob >= 0.5 {
			res.PredictedUp++
		} else {
			res.PredictedDown++
		}
		switch {
		case prob > highConfidenceUp:
			res.HighConfidenceUp++
		case prob < highConfidenceDown:
			res.HighConfidenceDown++
		default:
			res.MediumConfidence++
		}

		res.Signals = append(res.Signals, v.signalFor(window.Dates[i], prob))

		// Grade against the realized next-day move.
		if i+1 < len(closes) {
			res.Scored++
			if (prob >= 0.5) == (closes[i+1] > closes[i]) {
				res.Hits++
			}
		}
	}

	res.AvgProbability = probSum / float64(res.Samples)
	if res.Scored > 0 {
		res.HitRate = float64(res.Hits) / float64(res.Scored)
	}
	for _, s := range res.Signals {
		switch s.Action {
		case ActionBuy:
			res.BuySignals++
		case ActionSell:
			res.SellSignals++
		default:
			res.HoldSignals++
		}
	}

	v.log.Info("validated symbol",
		"symbol", symbol,
		"samples", res.Samples,
		"hit_rate", res.HitRate,
		"buy", res.BuySignals, "sell", res.SellSignals, "hold", res.HoldSignals,
	)
	return res, nil
}

func (v *Validator) signalFor(date time.Time, prob float64) DaySignal {
	switch {
	case prob > v.buy:
		return DaySignal{Date: date, Action: ActionBuy, Probability: prob, Confidence: prob}
	case prob < v.sell:
		return DaySignal{Date: date, Action: ActionSell, Probability: prob, Confidence: 1 - prob}
	default:
		return DaySignal{Date: date, Action: ActionHold, Probability: prob, Confidence: 0.5}
	}
}

// ValidateBatch grades each symbol in order. A failed symbol is recorded in
// the summary with an error status and the batch continues; cancelling the
// context stops the batch.
func (v *Validator) ValidateBatch(ctx context.Context, symbols []string, start, end time.Time) *Summary {
	sum := &Summary{
		GeneratedAt: time.Now().UTC(),
		Start:       start,
		End:         end,
		Results:     make(map[string]*SymbolValidation, len(symbols)),
	}

	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		if ctx.Err() != nil {
			v.log.Warn("validation batch cancelled", "remaining", len(symbols)-len(sum.Results))
			break
		}

		res, err := v.ValidateSymbol(ctx, sym, start, end)
		if err != nil {
			v.log.Error("validation failed", "symbol", sym, "error", err)
			res = &SymbolValidation{
				Symbol: sym,
				Status: backtest.StatusError,
				Error:  err.Error(),
			}
			sum.Failed++
		} else {
			sum.Succeeded++
		}
		sum.Results[sym] = res
	}
	return sum
}
