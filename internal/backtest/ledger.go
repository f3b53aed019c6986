package backtest

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kestrel/internal/domain"
)

// Ledger tracks the account state for one simulated strategy run: a decimal
// cash balance, at most one open position, at most one pending order, and
// the completed-trade counters. Positions are a fixed single unit; fills
// deduct a fractional commission from cash. A still-open position at the end
// of a run is not marked to market and contributes nothing to the counters.
type Ledger struct {
	symbol     string
	cash       decimal.Decimal
	commission decimal.Decimal
	position   *domain.Position
	pending    *domain.Order
	trades     int
	wins       int
	log        *slog.Logger
}

// NewLedger creates a ledger with the given starting cash and fractional
// commission rate.
func NewLedger(symbol string, cash, commission float64, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		symbol:     symbol,
		cash:       decimal.NewFromFloat(cash),
		commission: decimal.NewFromFloat(commission),
		log:        log,
	}
}

// Submit creates a pending order. Submitting while another order is
// outstanding violates the single-order invariant; it is logged as an order
// conflict and ignored, and Submit returns nil.
func (l *Ledger) Submit(side domain.OrderSide, at time.Time) *domain.Order {
	if l.pending != nil {
		l.log.Warn("order conflict: submit while an order is outstanding",
			"symbol", l.symbol, "side", side, "pending_id", l.pending.ID)
		return nil
	}
	l.pending = &domain.Order{
		ID:        uuid.NewString(),
		Symbol:    l.symbol,
		Side:      side,
		Status:    domain.OrderStatusSubmitted,
		Qty:       decimal.NewFromInt(1),
		CreatedAt: at,
		UpdatedAt: at,
	}
	return l.pending
}

// OnFill executes the pending order at px. A buy opens the position at the
// fill price; a sell closes it, increments the trade counter, and counts a
// win only when the fill price strictly exceeds the entry price. Calling
// OnFill with no pending order is ignored.
func (l *Ledger) OnFill(px float64, at time.Time) {
	if l.pending == nil {
		return
	}
	price := decimal.NewFromFloat(px)
	order := l.pending
	order.Status = domain.OrderStatusFilled
	order.FillPrice = price
	order.UpdatedAt = at
	l.pending = nil

	notional := price.Mul(order.Qty)
	fee := notional.Mul(l.commission)

	switch order.Side {
	case domain.OrderSideBuy:
		l.cash = l.cash.Sub(notional).Sub(fee)
		l.position = &domain.Position{
			Symbol:     l.symbol,
			Qty:        order.Qty,
			Side:       domain.PositionSideLong,
			EntryPrice: price,
			OpenedAt:   at,
		}
	case domain.OrderSideSell:
		l.cash = l.cash.Add(notional).Sub(fee)
		l.trades++
		if l.position != nil && price.GreaterThan(l.position.EntryPrice) {
			l.wins++
		}
		l.position = nil
	}
}

// OnCancelOrReject marks the pending order terminal and clears it without
// touching the position or the counters.
func (l *Ledger) OnCancelOrReject(status domain.OrderStatus, at time.Time) {
	if l.pending == nil {
		return
	}
	l.pending.Status = status
	l.pending.UpdatedAt = at
	l.pending = nil
}

// Pending returns the outstanding order, or nil.
func (l *Ledger) Pending() *domain.Order { return l.pending }

// Position returns the open position, or nil.
func (l *Ledger) Position() *domain.Position { return l.position }

// TradeCount returns the number of completed (sold) trades.
func (l *Ledger) TradeCount() int { return l.trades }

// WinCount returns the number of completed trades closed above entry.
func (l *Ledger) WinCount() int { return l.wins }

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// FinalEquity returns the cash balance as a float for the summarizer. An
// open position is deliberately not marked to market.
func (l *Ledger) FinalEquity() float64 { return l.cash.InexactFloat64() }
