package engine

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"reclaim-backtest/services/config"
	"reclaim-backtest/services/target"
	"reclaim-backtest/services/timeframe"
)

// State is the run lifecycle. A completed engine must be re-initialized
// before it can run again; it is not re-entrant mid-run.
type State int

const (
	StateInitialized State = iota
	StateRunning
	StateCompleted
)

// EquityPoint is one mark of the account per reference bar, plus the
// starting point before the first bar.
type EquityPoint struct {
	Timestamp int64
	Balance   float64 // cash
	Equity    float64 // cash plus unrealized P&L
	Peak      float64
	Drawdown  float64
}

// Result bundles everything a run produces.
type Result struct {
	Trades  []Trade
	Equity  []EquityPoint
	Metrics Metrics
}

type pendingEntry struct {
	sig    Signal
	dueIdx int
}

// Engine is the bar-by-bar simulator. Strictly single threaded within a
// run; parallelism happens across engines, never inside one.
type Engine struct {
	cfg     *config.Config
	store   *timeframe.Store
	source  SignalSource
	targets *target.Manager
	broker  Broker
	log     *zap.Logger
	symbol  string

	state   State
	ledger  *Ledger
	equity  []EquityPoint
	pending []pendingEntry
	peak    float64
}

// New wires an engine. A nil broker gets a PaperBroker funded with the
// configured initial capital; a nil logger is replaced with a nop.
func New(cfg *config.Config, store *timeframe.Store, source SignalSource, targets *target.Manager, broker Broker, log *zap.Logger, symbol string) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if broker == nil {
		broker = NewPaperBroker(cfg.InitialCapital, cfg.SlippageRate, cfg.CommissionRate, SymbolFilters{})
	}
	e := &Engine{
		cfg:     cfg,
		store:   store,
		source:  source,
		targets: targets,
		broker:  broker,
		log:     log,
		symbol:  symbol,
	}
	e.Initialize()
	return e
}

// Initialize resets the run state: starting balance, fresh ledger, empty
// equity, no pending entries.
func (e *Engine) Initialize() {
	e.state = StateInitialized
	e.ledger = NewLedger()
	e.equity = nil
	e.pending = nil
	e.peak = 0
	if err := e.broker.Reset(e.cfg.InitialCapital); err != nil {
		e.log.Warn("broker refused balance reset", zap.Error(err))
	}
}

// Run executes the full simulation and returns its result. Calling Run on
// anything but a freshly initialized engine is an error.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.state != StateInitialized {
		return nil, fmt.Errorf("engine must be re-initialized before running again")
	}
	ref, err := e.store.Reference()
	if err != nil {
		return nil, err
	}
	if ref.Len() == 0 {
		return nil, fmt.Errorf("reference series is empty")
	}
	if err := e.broker.Connect(ctx); err != nil {
		return nil, fmt.Errorf("broker connect: %w", err)
	}
	e.state = StateRunning

	// Starting point before the first bar.
	e.peak = e.broker.Balance()
	e.appendEquity(ref.Bars[0].Timestamp, 0)

	last := ref.Len() - 1
	for i := 0; i <= last; i++ {
		bar := ref.Bars[i]
		open, _ := bar.Open.Float64()
		high, _ := bar.High.Float64()
		low, _ := bar.Low.Float64()
		close, _ := bar.Close.Float64()
		ts := bar.Timestamp + ref.DurationMs // bar close time

		e.executePending(i, open, ts)
		e.updatePositions(i, high, low, ts)

		for _, sig := range e.source.Signals(i) {
			if e.cfg.ExecutionDelay <= 0 {
				e.tryOpen(sig, i, close, ts)
			} else {
				e.pending = append(e.pending, pendingEntry{sig: sig, dueIdx: i + e.cfg.ExecutionDelay})
			}
		}

		if i == last {
			e.closeAll(close, ts)
		}
		e.appendEquity(ts, close)
	}

	e.state = StateCompleted
	res := &Result{
		Trades: e.ledger.Trades(),
		Equity: e.equity,
	}
	res.Metrics = Analyze(res.Trades, res.Equity)
	e.log.Info("run completed",
		zap.Int("bars", ref.Len()),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("final_balance", e.broker.Balance()),
	)
	return res, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return e.state }

func (e *Engine) executePending(refIdx int, open float64, ts int64) {
	if len(e.pending) == 0 {
		return
	}
	rest := e.pending[:0]
	for _, pe := range e.pending {
		if pe.dueIdx > refIdx {
			rest = append(rest, pe)
			continue
		}
		e.tryOpen(pe.sig, refIdx, open, ts)
	}
	e.pending = rest
}

// tryOpen applies exposure rules, risk sizing and broker execution to a
// signal. A rejected signal is dropped silently apart from a debug log; the
// run continues.
func (e *Engine) tryOpen(sig Signal, refIdx int, refPrice float64, ts int64) {
	if sig.RiskFactor <= 0 || refPrice <= 0 {
		return
	}
	if e.ledger.OpenCount() >= e.cfg.MaxOpenPositions {
		e.log.Debug("signal rejected: max open positions", zap.String("timeframe", sig.Timeframe))
		return
	}
	if e.cfg.SameDirectionOnly && e.ledger.HasOpposite(sig.Direction) {
		e.log.Debug("signal rejected: opposing exposure", zap.String("timeframe", sig.Timeframe))
		return
	}

	long := sig.Direction == Long
	fillEst := refPrice * (1 + e.cfg.SlippageRate)
	if !long {
		fillEst = refPrice * (1 - e.cfg.SlippageRate)
	}
	riskPerUnit := fillEst - sig.Stop
	if !long {
		riskPerUnit = sig.Stop - fillEst
	}
	if riskPerUnit <= 0 {
		return // stop on the wrong side of the fill, nothing to size
	}

	riskAmount := e.broker.Balance() * e.cfg.RiskPercent * sig.RiskFactor
	size := riskAmount / riskPerUnit
	if !e.cfg.AllowFractional {
		size = math.Floor(size)
	}
	if size <= 0 {
		return
	}

	fill, err := e.broker.PlaceOrder(Order{
		Symbol:    e.symbol,
		Side:      sig.Direction,
		Qty:       size,
		Price:     refPrice,
		Timestamp: ts,
	})
	if err != nil {
		e.log.Debug("entry order rejected", zap.Error(err))
		return
	}

	initialRisk := fill.Price - sig.Stop
	if !long {
		initialRisk = sig.Stop - fill.Price
	}
	if initialRisk <= 0 {
		// Filter rounding pushed the fill past the stop. Flatten the filled
		// quantity and refund every commission charged so the abandoned
		// entry leaves the account exactly where it was.
		refund := fill.Commission
		unwind, uerr := e.broker.PlaceOrder(Order{
			Symbol:    e.symbol,
			Side:      sig.Direction,
			Reduce:    true,
			Qty:       fill.Qty,
			Price:     fill.Price,
			Timestamp: ts,
		})
		if uerr == nil {
			refund += unwind.Commission
		}
		e.broker.Realize(refund)
		e.log.Debug("entry abandoned: fill past stop",
			zap.Float64("fill", fill.Price),
			zap.Float64("stop", sig.Stop),
		)
		return
	}

	assign := e.targets.Initial(sig.Timeframe, refIdx, fill.Price, sig.Stop, long)
	pos := e.ledger.OpenPosition(Position{
		Symbol:        e.symbol,
		Direction:     sig.Direction,
		EntryPrice:    fill.Price,
		EntryTime:     ts,
		Size:          fill.Qty,
		StopLoss:      sig.Stop,
		TakeProfit:    assign.Price,
		TargetTF:      assign.TargetTF,
		OwnTF:         sig.Timeframe,
		InitialRisk:   initialRisk,
		InitialTarget: assign.Price,
		Confidence:    sig.Confidence,
		ConflictKind:  sig.ConflictKind,
	})
	e.log.Debug("position opened",
		zap.String("id", pos.ID),
		zap.String("direction", pos.Direction.String()),
		zap.String("timeframe", pos.OwnTF),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("stop", pos.StopLoss),
		zap.Float64("target", pos.TakeProfit),
		zap.Float64("size", pos.Size),
	)
}

// updatePositions walks every open position for one bar: stop first, then
// trailing, then target progression. The stop check wins same-bar ties
// against the target.
func (e *Engine) updatePositions(refIdx int, high, low float64, ts int64) {
	for _, p := range append([]*Position(nil), e.ledger.Open()...) {
		long := p.Direction == Long

		stopHit := (long && low <= p.StopLoss) || (!long && high >= p.StopLoss)
		if stopHit {
			e.closePosition(p, p.StopLoss, ts, "stop_loss")
			continue
		}

		e.updateTrailing(p, high, low)

		targetHit := p.TakeProfit > 0 &&
			((long && high >= p.TakeProfit) || (!long && low <= p.TakeProfit))
		if !targetHit {
			continue
		}
		reached := p.TakeProfit
		assign := e.targets.Advance(p.TargetTF, refIdx, reached, long)
		if assign.NoHigher {
			e.closePosition(p, reached, ts, "final_target")
			continue
		}
		p.TakeProfit = assign.Price
		p.TargetTF = assign.TargetTF
		e.log.Debug("target advanced",
			zap.String("id", p.ID),
			zap.String("target_tf", p.TargetTF),
			zap.Float64("target", p.TakeProfit),
		)
	}
}

// updateTrailing arms the trail once the favorable extreme reaches the
// activation R-multiple, then ratchets the stop off the extreme by the
// configured step. The stop only ever tightens.
func (e *Engine) updateTrailing(p *Position, high, low float64) {
	if e.cfg.TrailingActivation <= 0 || p.InitialRisk <= 0 {
		return
	}
	long := p.Direction == Long

	extreme := high
	if !long {
		extreme = low
	}
	if !p.TrailingActive {
		favorable := extreme - p.EntryPrice
		if !long {
			favorable = p.EntryPrice - extreme
		}
		if favorable/p.InitialRisk < e.cfg.TrailingActivation {
			return
		}
		p.TrailingActive = true
		p.TrailExtreme = extreme
	}

	if long {
		if extreme > p.TrailExtreme {
			p.TrailExtreme = extreme
		}
		if stop := p.TrailExtreme * (1 - e.cfg.TrailingStep); stop > p.StopLoss {
			p.StopLoss = stop
		}
	} else {
		if extreme < p.TrailExtreme {
			p.TrailExtreme = extreme
		}
		if stop := p.TrailExtreme * (1 + e.cfg.TrailingStep); stop < p.StopLoss {
			p.StopLoss = stop
		}
	}
}

func (e *Engine) closePosition(p *Position, refPrice float64, ts int64, reason string) {
	fill, err := e.broker.PlaceOrder(Order{
		Symbol:    e.symbol,
		Side:      p.Direction,
		Reduce:    true,
		Qty:       p.Size,
		Price:     refPrice,
		Timestamp: ts,
	})
	exitPrice := refPrice
	if err == nil {
		exitPrice = fill.Price
	}

	trade, err := e.ledger.Close(p, exitPrice, ts, reason)
	if err != nil {
		e.log.Error("close failed", zap.String("id", p.ID), zap.Error(err))
		return
	}
	e.broker.Realize(trade.Profit)
	e.log.Debug("position closed",
		zap.String("id", trade.ID),
		zap.String("reason", reason),
		zap.Float64("exit", trade.ExitPrice),
		zap.Float64("profit", trade.Profit),
		zap.Float64("r_multiple", trade.RMultiple),
	)
}

func (e *Engine) closeAll(price float64, ts int64) {
	for _, p := range append([]*Position(nil), e.ledger.Open()...) {
		e.closePosition(p, price, ts, "end_of_data")
	}
	e.pending = nil
}

func (e *Engine) appendEquity(ts int64, markPrice float64) {
	equity := e.broker.Balance()
	for _, p := range e.ledger.Open() {
		if markPrice > 0 {
			equity += p.Unrealized(markPrice)
		}
	}
	if equity > e.peak {
		e.peak = equity
	}
	e.equity = append(e.equity, EquityPoint{
		Timestamp: ts,
		Balance:   e.broker.Balance(),
		Equity:    equity,
		Peak:      e.peak,
		Drawdown:  e.peak - equity,
	})
}
