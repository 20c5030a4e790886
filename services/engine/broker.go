package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Order is a market order referenced to a price (the bar price the engine
// decided on). Brokers may adjust it for slippage and symbol filters.
type Order struct {
	ID        string
	Symbol    string
	Side      Direction // Long buys to open, Short sells to open
	Reduce    bool      // closing order: slippage works against the exit
	Qty       float64
	Price     float64
	Timestamp int64
}

// Fill is the broker's execution report.
type Fill struct {
	OrderID    string
	Price      float64
	Qty        float64
	Commission float64
	Timestamp  int64
}

// BrokerPosition is the broker's own record of an open net position, kept
// per symbol and side. It is the execution-side view, independent of the
// engine's trade ledger.
type BrokerPosition struct {
	Symbol   string
	Side     Direction
	Qty      float64
	AvgPrice float64
}

// Account is a point-in-time snapshot of the trading account.
type Account struct {
	Balance   float64
	Positions int
}

// Broker is the execution capability the engine depends on. The simulation
// uses PaperBroker; a live implementation would satisfy the same interface.
type Broker interface {
	Connect(ctx context.Context) error
	PlaceOrder(o Order) (Fill, error)
	ModifyOrder(id string, o Order) error
	CancelOrder(id string) error
	Positions() []BrokerPosition
	Account() Account
	Balance() float64
	Realize(pnl float64)
	// Reset restores the starting balance for a fresh run. Live
	// implementations return an error instead of rewriting history.
	Reset(balance float64) error
}

// PaperBroker fills orders instantly at the referenced price adjusted by a
// slippage rate, rounds quantity to the symbol filters, and charges a
// commission rate per side against its cash balance.
type PaperBroker struct {
	balance        float64
	slippageRate   float64
	commissionRate float64
	filters        SymbolFilters
	positions      []BrokerPosition
}

func NewPaperBroker(initialCapital, slippageRate, commissionRate float64, filters SymbolFilters) *PaperBroker {
	return &PaperBroker{
		balance:        initialCapital,
		slippageRate:   slippageRate,
		commissionRate: commissionRate,
		filters:        filters,
	}
}

func (b *PaperBroker) Connect(ctx context.Context) error { return nil }

// PlaceOrder executes a market order. Slippage always worsens the fill:
// opening longs and closing shorts pay up, opening shorts and closing longs
// receive less.
func (b *PaperBroker) PlaceOrder(o Order) (Fill, error) {
	if o.Qty <= 0 {
		return Fill{}, fmt.Errorf("order quantity must be positive, got %v", o.Qty)
	}
	if o.Price <= 0 {
		return Fill{}, fmt.Errorf("order price must be positive, got %v", o.Price)
	}

	buying := (o.Side == Long) != o.Reduce
	price := o.Price
	if buying {
		price *= 1 + b.slippageRate
	} else {
		price *= 1 - b.slippageRate
	}

	price, qty := EnforceFilters(b.filters, price, o.Qty)
	if qty <= 0 {
		return Fill{}, fmt.Errorf("quantity %v rounds to zero under symbol filters", o.Qty)
	}

	commission := price * qty * b.commissionRate
	b.balance -= commission
	b.book(o.Symbol, o.Side, o.Reduce, price, qty)

	id := o.ID
	if id == "" {
		id = uuid.NewString()
	}
	return Fill{OrderID: id, Price: price, Qty: qty, Commission: commission, Timestamp: o.Timestamp}, nil
}

// book applies a fill to the broker's net position records. Opening fills
// extend the matching position at a volume-weighted average price; reducing
// fills shrink it and drop the record once the quantity is gone.
func (b *PaperBroker) book(symbol string, side Direction, reduce bool, price, qty float64) {
	for i := range b.positions {
		p := &b.positions[i]
		if p.Symbol != symbol || p.Side != side {
			continue
		}
		if reduce {
			p.Qty -= qty
			if p.Qty <= 1e-12 {
				b.positions = append(b.positions[:i], b.positions[i+1:]...)
			}
			return
		}
		p.AvgPrice = (p.AvgPrice*p.Qty + price*qty) / (p.Qty + qty)
		p.Qty += qty
		return
	}
	if !reduce {
		b.positions = append(b.positions, BrokerPosition{Symbol: symbol, Side: side, Qty: qty, AvgPrice: price})
	}
}

// ModifyOrder fails on the paper broker: fills are immediate, so there is
// never a resting order to amend.
func (b *PaperBroker) ModifyOrder(id string, o Order) error {
	return fmt.Errorf("no resting order %q to modify", id)
}

// CancelOrder is a no-op: paper fills are immediate, so there is never a
// resting order to cancel.
func (b *PaperBroker) CancelOrder(id string) error { return nil }

// Positions returns a copy of the broker's open position records.
func (b *PaperBroker) Positions() []BrokerPosition {
	out := make([]BrokerPosition, len(b.positions))
	copy(out, b.positions)
	return out
}

func (b *PaperBroker) Account() Account {
	return Account{Balance: b.balance, Positions: len(b.positions)}
}

func (b *PaperBroker) Balance() float64 { return b.balance }

// Realize settles a closed position's price P&L into the cash balance.
func (b *PaperBroker) Realize(pnl float64) { b.balance += pnl }

func (b *PaperBroker) Reset(balance float64) error {
	b.balance = balance
	b.positions = nil
	return nil
}
