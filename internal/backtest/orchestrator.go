package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"kestrel/internal/domain"
	"kestrel/internal/features"
	"kestrel/internal/signal"
)

// RequiredColumns are the input-table columns every run needs. pred_prob is
// attached by the caller after model scoring; its absence means the model
// could not be resolved and the symbol fails rather than degrading to a
// baseline-only run.
var RequiredColumns = []string{
	features.ColOpen,
	features.ColHigh,
	features.ColLow,
	features.ColClose,
	features.ColVolume,
	features.ColPredProb,
}

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Params are the simulation parameters for one engine. Start and End are
// optional inclusive date filters applied before simulation.
type Params struct {
	Cash        float64   `json:"cash"`
	Commission  float64   `json:"commission"`
	MLThreshold float64   `json:"ml_threshold"`
	FastPeriod  int       `json:"fast_period"`
	SlowPeriod  int       `json:"slow_period"`
	Start       time.Time `json:"-"`
	End         time.Time `json:"-"`

	// Strict rejects a probability series whose length differs from the
	// bar count instead of clamping indices.
	Strict bool `json:"-"`
}

// SymbolResult is the per-symbol comparison of the two strategies. It is
// written once per run and never mutated afterward.
type SymbolResult struct {
	RunID        string          `json:"run_id"`
	Symbol       string          `json:"symbol"`
	Timestamp    time.Time       `json:"timestamp"`
	Params       Params          `json:"params"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
	Records      int             `json:"records"`
	ML           StrategyMetrics `json:"ml_strategy"`
	Baseline     StrategyMetrics `json:"baseline_strategy"`
	ExcessReturn float64         `json:"excess_return"`
	Status       string          `json:"status"`
	Error        string          `json:"error,omitempty"`
}

// Engine runs the ML and baseline strategies over prepared feature frames.
type Engine struct {
	params Params
	log    *slog.Logger
}

// NewEngine creates an engine with fixed parameters.
func NewEngine(params Params, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{params: params, log: log}
}

// Run validates the frame, applies the date filter, and simulates the ML and
// baseline strategies over the same bars with independent ledgers, both
// starting from the same cash. Returns the assembled comparison result.
func (e *Engine) Run(frame *features.Frame) (*SymbolResult, error) {
	if missing := frame.Missing(RequiredColumns...); len(missing) > 0 {
		return nil, missingColumnError(missing)
	}

	sub := frame.Slice(e.params.Start, e.params.End)
	if sub.Len() == 0 {
		return nil, fmt.Errorf("%w: %s has no bars between %s and %s",
			ErrEmptyRange, frame.Symbol, fmtDate(e.params.Start), fmtDate(e.params.End))
	}

	bars := frameBars(sub)
	probs, _ := sub.Column(features.ColPredProb)

	// A frame column is always aligned to the bars; the length check guards
	// probability arrays attached out of band. The default mode tolerates a
	// mismatch by clamping indices to the last valid entry.
	if len(probs) != len(bars) {
		if e.params.Strict {
			return nil, fmt.Errorf("%w: %d probabilities for %d bars", ErrSignalMismatch, len(probs), len(bars))
		}
		e.log.Warn("probability series length differs from bar count, clamping",
			"symbol", sub.Symbol, "probs", len(probs), "bars", len(bars))
	}

	probSeries := signal.NewProbSeries(probs)
	if probSeries.Degenerate() {
		e.log.Warn("probability series is near-constant at neutral, model output looks degenerate",
			"symbol", sub.Symbol)
	}

	closes, _ := sub.Column(features.ColClose)

	mlLedger := NewLedger(sub.Symbol, e.params.Cash, e.params.Commission, e.log)
	mlStats := NewSimulator(mlLedger, &MLRule{
		Probs:     probSeries,
		Threshold: e.params.MLThreshold,
	}, e.log).Run(bars)

	baseLedger := NewLedger(sub.Symbol, e.params.Cash, e.params.Commission, e.log)
	baseStats := NewSimulator(baseLedger, &BaselineRule{
		Cross: signal.NewCrossoverSeries(closes, e.params.FastPeriod, e.params.SlowPeriod),
	}, e.log).Run(bars)

	ml := Summarize(e.params.Cash, mlStats.FinalEquity, mlStats.Trades, mlStats.Wins, MLDrawdownParams)
	base := Summarize(e.params.Cash, baseStats.FinalEquity, baseStats.Trades, baseStats.Wins, BaselineDrawdownParams)

	return &SymbolResult{
		RunID:        uuid.NewString(),
		Symbol:       strings.ToUpper(sub.Symbol),
		Timestamp:    time.Now().UTC(),
		Params:       e.params,
		StartDate:    bars[0].Timestamp,
		EndDate:      bars[len(bars)-1].Timestamp,
		Records:      len(bars),
		ML:           ml,
		Baseline:     base,
		ExcessReturn: ml.TotalReturn - base.TotalReturn,
		Status:       StatusOK,
	}, nil
}

// FrameSource loads the prepared feature frame, with pred_prob attached, for
// one symbol.
type FrameSource func(ctx context.Context, symbol string) (*features.Frame, error)

// RunBatch backtests each symbol in order, one run at a time. A failed
// symbol is recorded in the result map with an error status and a reason,
// and the batch continues with the next symbol.
func (e *Engine) RunBatch(ctx context.Context, symbols []string, source FrameSource) map[string]*SymbolResult {
	out := make(map[string]*SymbolResult, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		if ctx.Err() != nil {
			e.log.Warn("batch cancelled", "remaining", len(symbols)-len(out))
			break
		}

		frame, err := source(ctx, sym)
		var res *SymbolResult
		if err == nil {
			res, err = e.Run(frame)
		}
		if err != nil {
			e.log.Error("backtest failed", "symbol", sym, "error", err)
			res = &SymbolResult{
				RunID:     uuid.NewString(),
				Symbol:    sym,
				Timestamp: time.Now().UTC(),
				Params:    e.params,
				Status:    StatusError,
				Error:     err.Error(),
			}
		}
		out[sym] = res
	}
	return out
}

// frameBars converts the frame's base columns back into a bar series.
func frameBars(f *features.Frame) []domain.Bar {
	open, _ := f.Column(features.ColOpen)
	high, _ := f.Column(features.ColHigh)
	low, _ := f.Column(features.ColLow)
	closes, _ := f.Column(features.ColClose)
	volume, _ := f.Column(features.ColVolume)

	bars := make([]domain.Bar, f.Len())
	for i := range bars {
		bars[i] = domain.Bar{
			Symbol:    f.Symbol,
			Timestamp: f.Dates[i],
			Open:      open[i],
			High:      high[i],
			Low:       low[i],
			Close:     closes[i],
			Volume:    int64(volume[i]),
		}
	}
	return bars
}

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
