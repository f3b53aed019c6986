package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kestrel/internal/domain"
	"kestrel/internal/util"
)

var testTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testLedger() *Ledger {
	return NewLedger("AAPL", 100000, 0.0008, util.NewLogger("error", ""))
}

func TestLedgerBuySellCycle(t *testing.T) {
	l := testLedger()

	if l.Submit(domain.OrderSideBuy, testTime) == nil {
		t.Fatal("Submit returned nil with no order outstanding")
	}
	l.OnFill(100, testTime)

	pos := l.Position()
	if pos == nil {
		t.Fatal("buy fill did not open a position")
	}
	if !pos.EntryPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("entry price = %s, want 100", pos.EntryPrice)
	}
	if l.Pending() != nil {
		t.Error("pending order not cleared after fill")
	}

	if l.Submit(domain.OrderSideSell, testTime) == nil {
		t.Fatal("sell Submit returned nil")
	}
	l.OnFill(102, testTime)

	if l.Position() != nil {
		t.Error("sell fill did not close the position")
	}
	if l.TradeCount() != 1 || l.WinCount() != 1 {
		t.Errorf("trades/wins = %d/%d, want 1/1", l.TradeCount(), l.WinCount())
	}

	// 100000 - 100*(1+0.0008) + 102*(1-0.0008), exact in decimal.
	want := decimal.RequireFromString("100001.8384")
	if !l.Cash().Equal(want) {
		t.Errorf("cash = %s, want %s", l.Cash(), want)
	}
}

func TestLedgerFillAtEntryIsNotAWin(t *testing.T) {
	l := testLedger()
	l.Submit(domain.OrderSideBuy, testTime)
	l.OnFill(100, testTime)
	l.Submit(domain.OrderSideSell, testTime)
	l.OnFill(100, testTime)

	if l.TradeCount() != 1 {
		t.Fatalf("trades = %d, want 1", l.TradeCount())
	}
	if l.WinCount() != 0 {
		t.Errorf("sell exactly at entry counted as a win")
	}
}

func TestLedgerOrderConflictIsNoOp(t *testing.T) {
	l := testLedger()
	first := l.Submit(domain.OrderSideBuy, testTime)
	if first == nil {
		t.Fatal("first Submit failed")
	}
	if second := l.Submit(domain.OrderSideSell, testTime); second != nil {
		t.Error("Submit accepted a second order while one was outstanding")
	}
	if l.Pending() != first {
		t.Error("conflicting submit replaced the outstanding order")
	}
}

func TestLedgerCancelClearsOnlyPending(t *testing.T) {
	l := testLedger()
	l.Submit(domain.OrderSideBuy, testTime)
	l.OnFill(100, testTime)

	l.Submit(domain.OrderSideSell, testTime)
	l.OnCancelOrReject(domain.OrderStatusCancelled, testTime)

	if l.Pending() != nil {
		t.Error("cancel did not clear the pending order")
	}
	if l.Position() == nil {
		t.Error("cancel mutated the open position")
	}
	if l.TradeCount() != 0 || l.WinCount() != 0 {
		t.Error("cancel mutated the trade counters")
	}
}

func TestLedgerFillWithoutPendingIgnored(t *testing.T) {
	l := testLedger()
	l.OnFill(100, testTime)
	if l.Position() != nil || l.TradeCount() != 0 {
		t.Error("fill without a pending order mutated state")
	}
}
