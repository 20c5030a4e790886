package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// PositionStatus is the position lifecycle flag.
type PositionStatus int

const (
	PositionOpen PositionStatus = iota
	PositionClosed
)

// Position is an open exposure. It is owned exclusively by the Ledger and
// mutated only through OpenPosition, UpdateStop, UpdateTarget and Close.
type Position struct {
	ID        string
	Symbol    string
	Direction Direction

	EntryPrice float64
	EntryTime  int64
	Size       float64

	StopLoss   float64
	TakeProfit float64
	TargetTF   string // empty for a fixed reward-to-risk target
	OwnTF      string

	TrailingActive bool
	TrailExtreme   float64

	InitialRisk   float64 // per-unit entry-to-stop distance at open
	InitialTarget float64 // first target, for the realized reward:risk ratio
	Confidence    float64
	ConflictKind  string

	Status     PositionStatus
	ExitPrice  float64
	ExitTime   int64
	ExitReason string
}

// Unrealized returns the open P&L of the position at the given price.
func (p *Position) Unrealized(price float64) float64 {
	if p.Direction == Long {
		return (price - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - price) * p.Size
}

// Trade is the immutable record derived from a closed position.
type Trade struct {
	ID        string
	Symbol    string
	Direction Direction
	Timeframe string

	EntryPrice float64
	ExitPrice  float64
	Size       float64
	EntryTime  int64
	ExitTime   int64
	DurationMs int64

	Profit     float64 // price P&L x size; commissions hit the balance
	RMultiple  float64
	RiskReward float64
	ExitReason string

	Confidence   float64
	ConflictKind string
}

// ToTrade converts a closed position into its trade record. Calling it on an
// open position is a contract violation and returns an error.
func (p *Position) ToTrade() (Trade, error) {
	if p.Status != PositionClosed {
		return Trade{}, fmt.Errorf("position %s is still open", p.ID)
	}
	profitPerUnit := p.ExitPrice - p.EntryPrice
	if p.Direction == Short {
		profitPerUnit = p.EntryPrice - p.ExitPrice
	}
	t := Trade{
		ID:           p.ID,
		Symbol:       p.Symbol,
		Direction:    p.Direction,
		Timeframe:    p.OwnTF,
		EntryPrice:   p.EntryPrice,
		ExitPrice:    p.ExitPrice,
		Size:         p.Size,
		EntryTime:    p.EntryTime,
		ExitTime:     p.ExitTime,
		DurationMs:   p.ExitTime - p.EntryTime,
		Profit:       profitPerUnit * p.Size,
		ExitReason:   p.ExitReason,
		Confidence:   p.Confidence,
		ConflictKind: p.ConflictKind,
	}
	if p.InitialRisk > 0 {
		t.RMultiple = profitPerUnit / p.InitialRisk
		targetPerUnit := p.InitialTarget - p.EntryPrice
		if p.Direction == Short {
			targetPerUnit = p.EntryPrice - p.InitialTarget
		}
		t.RiskReward = targetPerUnit / p.InitialRisk
	}
	return t, nil
}

// Ledger owns every position opened during a run and the trades produced
// when they close.
type Ledger struct {
	open   []*Position
	trades []Trade
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// OpenPosition creates a new open position with a fresh id.
func (l *Ledger) OpenPosition(p Position) *Position {
	p.ID = uuid.NewString()
	p.Status = PositionOpen
	pos := &p
	l.open = append(l.open, pos)
	return pos
}

// Open returns the live open positions. Callers must not retain the slice
// across bar steps.
func (l *Ledger) Open() []*Position { return l.open }

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int { return len(l.open) }

// HasOpposite reports whether any open position trades against dir.
func (l *Ledger) HasOpposite(dir Direction) bool {
	for _, p := range l.open {
		if p.Direction != dir {
			return true
		}
	}
	return false
}

// Close transitions a position to closed, removes it from the open set, and
// records its trade. Closing a position twice is a contract violation.
func (l *Ledger) Close(p *Position, price float64, ts int64, reason string) (Trade, error) {
	if p.Status == PositionClosed {
		return Trade{}, fmt.Errorf("position %s already closed", p.ID)
	}
	idx := -1
	for i, op := range l.open {
		if op == p {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Trade{}, fmt.Errorf("position %s is not in the open set", p.ID)
	}
	p.Status = PositionClosed
	p.ExitPrice = price
	p.ExitTime = ts
	p.ExitReason = reason
	l.open = append(l.open[:idx], l.open[idx+1:]...)

	t, err := p.ToTrade()
	if err != nil {
		return Trade{}, err
	}
	l.trades = append(l.trades, t)
	return t, nil
}

// Trades returns the closed-trade history in close order.
func (l *Ledger) Trades() []Trade { return l.trades }
