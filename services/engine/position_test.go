package engine

import (
	"math"
	"testing"
)

func TestToTradeOnOpenPositionIsAnError(t *testing.T) {
	l := NewLedger()
	p := l.OpenPosition(Position{Direction: Long, EntryPrice: 100, StopLoss: 98, InitialRisk: 2})
	if _, err := p.ToTrade(); err == nil {
		t.Fatal("expected error converting an open position to a trade")
	}
}

func TestCloseProducesRMultipleAndRiskReward(t *testing.T) {
	l := NewLedger()
	p := l.OpenPosition(Position{
		Direction:     Long,
		EntryPrice:    100,
		EntryTime:     1000,
		Size:          10,
		StopLoss:      98,
		InitialRisk:   2,
		InitialTarget: 106,
	})
	trade, err := l.Close(p, 106, 2000, "final_target")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(trade.RMultiple-3.0) > 1e-9 {
		t.Fatalf("r_multiple = %v, want 3.0", trade.RMultiple)
	}
	if math.Abs(trade.RiskReward-3.0) > 1e-9 {
		t.Fatalf("risk_reward = %v, want 3.0", trade.RiskReward)
	}
	if math.Abs(trade.Profit-60) > 1e-9 {
		t.Fatalf("profit = %v, want 60", trade.Profit)
	}
	if trade.DurationMs != 1000 {
		t.Fatalf("duration = %d, want 1000", trade.DurationMs)
	}
}

func TestDoubleCloseIsAnError(t *testing.T) {
	l := NewLedger()
	p := l.OpenPosition(Position{Direction: Long, EntryPrice: 100, StopLoss: 98, InitialRisk: 2})
	if _, err := l.Close(p, 99, 2000, "stop_loss"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Close(p, 99, 3000, "stop_loss"); err == nil {
		t.Fatal("expected error closing a position twice")
	}
}

func TestRMultipleSignMatchesProfit(t *testing.T) {
	l := NewLedger()
	for _, exit := range []float64{95, 99, 101, 107} {
		p := l.OpenPosition(Position{Direction: Long, EntryPrice: 100, Size: 5, StopLoss: 98, InitialRisk: 2})
		trade, err := l.Close(p, exit, 2000, "test")
		if err != nil {
			t.Fatal(err)
		}
		if trade.Profit != 0 && math.Signbit(trade.RMultiple) != math.Signbit(trade.Profit) {
			t.Fatalf("exit %v: sign(r)=%v disagrees with sign(profit)=%v", exit, trade.RMultiple, trade.Profit)
		}
	}
}

func TestShortTradeProfit(t *testing.T) {
	l := NewLedger()
	p := l.OpenPosition(Position{
		Direction:     Short,
		EntryPrice:    100,
		Size:          10,
		StopLoss:      102,
		InitialRisk:   2,
		InitialTarget: 94,
	})
	trade, err := l.Close(p, 94, 2000, "final_target")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(trade.Profit-60) > 1e-9 {
		t.Fatalf("short profit = %v, want 60", trade.Profit)
	}
	if math.Abs(trade.RMultiple-3.0) > 1e-9 {
		t.Fatalf("short r_multiple = %v, want 3.0", trade.RMultiple)
	}
}

func TestPaperBrokerSlippageWorksAgainstTheFill(t *testing.T) {
	b := NewPaperBroker(100000, 0.001, 0, SymbolFilters{})

	buy, err := b.PlaceOrder(Order{Side: Long, Qty: 1, Price: 100})
	if err != nil {
		t.Fatal(err)
	}
	if buy.Price <= 100 {
		t.Fatalf("long entry fill %v should pay up", buy.Price)
	}

	sell, err := b.PlaceOrder(Order{Side: Long, Reduce: true, Qty: 1, Price: 100})
	if err != nil {
		t.Fatal(err)
	}
	if sell.Price >= 100 {
		t.Fatalf("long exit fill %v should receive less", sell.Price)
	}
}

func TestPaperBrokerCommissionHitsBalance(t *testing.T) {
	b := NewPaperBroker(100000, 0, 0.001, SymbolFilters{})
	fill, err := b.PlaceOrder(Order{Side: Long, Qty: 10, Price: 100})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(fill.Commission-1.0) > 1e-9 {
		t.Fatalf("commission = %v, want 1.0", fill.Commission)
	}
	if math.Abs(b.Balance()-99999) > 1e-9 {
		t.Fatalf("balance = %v, want 99999", b.Balance())
	}
}

func TestPaperBrokerTracksPositionsAndAccount(t *testing.T) {
	b := NewPaperBroker(50000, 0, 0, SymbolFilters{})
	if _, err := b.PlaceOrder(Order{Symbol: "TESTUSD", Side: Long, Qty: 2, Price: 100}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.PlaceOrder(Order{Symbol: "TESTUSD", Side: Long, Qty: 2, Price: 110}); err != nil {
		t.Fatal(err)
	}

	ps := b.Positions()
	if len(ps) != 1 {
		t.Fatalf("got %d positions, want 1 net position", len(ps))
	}
	if math.Abs(ps[0].Qty-4) > 1e-9 || math.Abs(ps[0].AvgPrice-105) > 1e-9 {
		t.Fatalf("position = %+v, want qty 4 at avg 105", ps[0])
	}
	acct := b.Account()
	if acct.Positions != 1 || math.Abs(acct.Balance-50000) > 1e-9 {
		t.Fatalf("account = %+v, want 1 position and balance 50000", acct)
	}

	if _, err := b.PlaceOrder(Order{Symbol: "TESTUSD", Side: Long, Reduce: true, Qty: 4, Price: 120}); err != nil {
		t.Fatal(err)
	}
	if len(b.Positions()) != 0 {
		t.Fatalf("book not flat after full reduce: %+v", b.Positions())
	}
	if b.Account().Positions != 0 {
		t.Fatalf("account still counts %d positions", b.Account().Positions)
	}
}

func TestPaperBrokerModifyOrderIsRejected(t *testing.T) {
	b := NewPaperBroker(50000, 0, 0, SymbolFilters{})
	if err := b.ModifyOrder("abc", Order{Side: Long, Qty: 1, Price: 100}); err == nil {
		t.Fatal("expected an error: paper fills are immediate, nothing rests to modify")
	}
}

func TestPaperBrokerResetClearsPositions(t *testing.T) {
	b := NewPaperBroker(50000, 0, 0, SymbolFilters{})
	if _, err := b.PlaceOrder(Order{Symbol: "TESTUSD", Side: Short, Qty: 1, Price: 100}); err != nil {
		t.Fatal(err)
	}
	if err := b.Reset(75000); err != nil {
		t.Fatal(err)
	}
	if math.Abs(b.Balance()-75000) > 1e-9 {
		t.Fatalf("balance = %v, want 75000", b.Balance())
	}
	if len(b.Positions()) != 0 {
		t.Fatalf("reset kept positions: %+v", b.Positions())
	}
}

func TestEnforceFiltersNotionalMinimum(t *testing.T) {
	f := SymbolFilters{QtyStep: 0.001, NotionalMin: 10}
	_, qty := EnforceFilters(f, 100, 0.05)
	if qty*100 < 10-1e-9 {
		t.Fatalf("notional %v below minimum", qty*100)
	}
}
