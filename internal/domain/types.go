// Package domain defines the core types shared across the kestrel pipeline:
// bars, orders, positions, and the enums describing their lifecycles.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies the exchange universe a symbol belongs to.
type Market string

// Supported markets.
const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is one daily OHLCV record for one symbol.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// OrderSide is the direction of an order.
type OrderSide string

// Order sides.
const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// Order statuses. A submitted order is terminal once it reaches filled,
// cancelled, or rejected.
const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether the status is a terminal order state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Order is a single simulated order. Qty is fixed at one unit in the
// backtest fill model; FillPrice is set when the order reaches filled.
type Order struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Status    OrderStatus
	Qty       decimal.Decimal
	FillPrice decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PositionSide is the direction of an open position.
type PositionSide string

// Position sides. The backtest fill model only ever holds long.
const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is a single open holding. EntryPrice is the fill price of the
// buy that opened it.
type Position struct {
	Symbol     string
	Qty        decimal.Decimal
	Side       PositionSide
	EntryPrice decimal.Decimal
	OpenedAt   time.Time
}
