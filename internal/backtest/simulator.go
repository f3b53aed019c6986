package backtest

import (
	"log/slog"

	"kestrel/internal/domain"
	"kestrel/internal/signal"
)

// Action is a per-bar trade decision.
type Action int

// Per-bar actions.
const (
	ActionHold Action = iota
	ActionBuy
	ActionSell
)

// State is the simulator's position in its per-run state machine.
type State int

// Simulator states.
const (
	StateFlat State = iota
	StateAwaitingFill
	StateLong
)

// Rule decides the action for one bar given the current ledger state.
type Rule interface {
	Name() string
	Decide(i int, bar domain.Bar, ledger *Ledger) Action
}

// MLRule trades on the model's per-bar up-probability: buy when the
// probability strictly exceeds the threshold, exit when it falls to the
// threshold or below. The strict/non-strict asymmetry is deliberate; a
// probability exactly at the threshold never opens a position but does close
// one.
type MLRule struct {
	Probs     *signal.ProbSeries
	Threshold float64
}

// Name returns the strategy name.
func (r *MLRule) Name() string { return "ml" }

// Decide implements Rule.
func (r *MLRule) Decide(i int, _ domain.Bar, ledger *Ledger) Action {
	prob := r.Probs.At(i)
	if ledger.Position() == nil {
		if prob > r.Threshold {
			return ActionBuy
		}
		return ActionHold
	}
	if prob <= r.Threshold {
		return ActionSell
	}
	return ActionHold
}

// DefaultStopLossPct is the fraction below entry at which the baseline rule
// force-closes a position.
const DefaultStopLossPct = 0.05

// BaselineRule trades on the moving-average crossover: golden cross buys,
// death cross sells, and a hard stop-loss closes the position when the close
// drops more than StopLossPct below entry. The stop-loss is only evaluated
// when the death cross did not already fire this bar.
type BaselineRule struct {
	Cross       *signal.CrossoverSeries
	StopLossPct float64
}

// Name returns the strategy name.
func (r *BaselineRule) Name() string { return "baseline" }

// Decide implements Rule.
func (r *BaselineRule) Decide(i int, bar domain.Bar, ledger *Ledger) Action {
	pos := ledger.Position()
	if pos == nil {
		if r.Cross.GoldenCross(i) {
			return ActionBuy
		}
		return ActionHold
	}
	if r.Cross.DeathCross(i) {
		return ActionSell
	}
	stop := r.StopLossPct
	if stop == 0 {
		stop = DefaultStopLossPct
	}
	if bar.Close < pos.EntryPrice.InexactFloat64()*(1-stop) {
		return ActionSell
	}
	return ActionHold
}

// Compile-time interface checks.
var (
	_ Rule = (*MLRule)(nil)
	_ Rule = (*BaselineRule)(nil)
)

// RunStats is the raw outcome of one simulated pass.
type RunStats struct {
	FinalEquity float64
	Trades      int
	Wins        int
	Bars        int
}

// Simulator steps a rule over a bar series, mutating one ledger. Fills
// execute immediately at the deciding bar's close price, with no slippage,
// partial fills, or insufficient-funds rejection.
type Simulator struct {
	ledger *Ledger
	rule   Rule
	log    *slog.Logger
}

// NewSimulator creates a simulator over the given ledger and decision rule.
func NewSimulator(ledger *Ledger, rule Rule, log *slog.Logger) *Simulator {
	if log == nil {
		log = slog.Default()
	}
	return &Simulator{ledger: ledger, rule: rule, log: log.With("strategy", rule.Name())}
}

// State reports the current state-machine state, derived from the ledger.
func (s *Simulator) State() State {
	switch {
	case s.ledger.Pending() != nil:
		return StateAwaitingFill
	case s.ledger.Position() != nil:
		return StateLong
	default:
		return StateFlat
	}
}

// Run steps every bar in order and returns the run statistics. Bars must be
// sorted ascending by date. A still-open position at the end of the series
// is left open and excluded from the trade counters.
func (s *Simulator) Run(bars []domain.Bar) RunStats {
	for i, bar := range bars {
		// Reconcile an order carried over from an earlier bar. With the
		// immediate-fill model a pending order never survives a bar, but
		// the state machine keeps the branch so an alternative fill model
		// cannot double-decide or drop a fill.
		if p := s.ledger.Pending(); p != nil {
			switch {
			case !p.Status.Terminal():
				continue
			case p.Status == domain.OrderStatusFilled:
				s.ledger.OnFill(p.FillPrice.InexactFloat64(), bar.Timestamp)
			default:
				s.ledger.OnCancelOrReject(p.Status, bar.Timestamp)
			}
		}

		switch s.rule.Decide(i, bar, s.ledger) {
		case ActionBuy:
			if s.ledger.Submit(domain.OrderSideBuy, bar.Timestamp) != nil {
				s.ledger.OnFill(bar.Close, bar.Timestamp)
			}
		case ActionSell:
			if s.ledger.Submit(domain.OrderSideSell, bar.Timestamp) != nil {
				s.ledger.OnFill(bar.Close, bar.Timestamp)
			}
		}
	}

	return RunStats{
		FinalEquity: s.ledger.FinalEquity(),
		Trades:      s.ledger.TradeCount(),
		Wins:        s.ledger.WinCount(),
		Bars:        len(bars),
	}
}
