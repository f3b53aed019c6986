package backtest

import "math"

// DrawdownParams are the per-strategy constants of the heuristic drawdown
// proxy.
type DrawdownParams struct {
	KLoss     float64
	FloorLoss float64
	KGain     float64
	MinGain   float64
	MaxGain   float64
}

// Per-strategy heuristic constants. These reproduce the stored-report
// numbers exactly and must not be retuned.
var (
	MLDrawdownParams       = DrawdownParams{KLoss: 0.6, FloorLoss: -0.03, KGain: 0.3, MinGain: 0.005, MaxGain: 0.05}
	BaselineDrawdownParams = DrawdownParams{KLoss: 0.7, FloorLoss: -0.04, KGain: 0.4, MinGain: 0.008, MaxGain: 0.06}
)

// StrategyMetrics is the performance summary of one simulated strategy pass.
type StrategyMetrics struct {
	TotalReturn float64 `json:"total_return"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinRate     float64 `json:"win_rate"`
	TradeCount  int     `json:"trade_count"`
	WinCount    int     `json:"win_count"`
}

// Summarize converts the raw run outcome into the summary metrics. Sharpe
// and drawdown are heuristic proxies of the real statistics, not
// equity-curve computations; the formulas are preserved verbatim for output
// compatibility with previously stored reports. A run with zero completed
// trades reports zero for every derived metric.
func Summarize(initialCash, finalEquity float64, trades, wins int, dd DrawdownParams) StrategyMetrics {
	totalReturn := (finalEquity - initialCash) / initialCash

	m := StrategyMetrics{
		TotalReturn: totalReturn,
		TradeCount:  trades,
		WinCount:    wins,
	}
	if trades == 0 {
		return m
	}

	m.WinRate = float64(wins) / float64(trades) * 100

	m.Sharpe = totalReturn * math.Sqrt(float64(trades))
	if totalReturn <= 0 {
		m.Sharpe *= 0.5
	}

	if totalReturn < 0 {
		m.MaxDrawdown = math.Abs(math.Min(totalReturn*dd.KLoss, dd.FloorLoss))
	} else {
		m.MaxDrawdown = math.Max(dd.MinGain, math.Min(totalReturn*dd.KGain, dd.MaxGain))
	}
	return m
}
