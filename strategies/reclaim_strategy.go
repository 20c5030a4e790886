// Package strategies turns detection output into trade signals. The reclaim
// strategy trades the cross back through the moving average after a
// volatility extension, once a Fibonacci pullback confirms it.
package strategies

import (
	"go.uber.org/zap"

	"reclaim-backtest/services/conflict"
	"reclaim-backtest/services/config"
	"reclaim-backtest/services/detect"
	"reclaim-backtest/services/engine"
	"reclaim-backtest/services/timeframe"
)

// candidate is a precomputed signal pinned to the timeframe bar on which its
// pullback validated.
type candidate struct {
	event    detect.ReclamationEvent
	pullback detect.PullbackResult
	barIdx   int // validating bar index on the owning timeframe
}

// ReclaimStrategy precomputes extension states, reclamations and pullbacks
// for every timeframe, then serves them bar by bar through the engine's
// SignalSource interface. All computation is deterministic for identical
// bars and parameters.
type ReclaimStrategy struct {
	cfg      *config.Config
	store    *timeframe.Store
	resolver *conflict.Resolver
	log      *zap.Logger

	ext        map[string][]detect.ExtensionState
	candidates map[string]map[int][]candidate
}

// NewReclaimStrategy runs all per-timeframe detection up front. The engine
// then only pays an index lookup per bar.
func NewReclaimStrategy(cfg *config.Config, store *timeframe.Store, log *zap.Logger) *ReclaimStrategy {
	if log == nil {
		log = zap.NewNop()
	}
	s := &ReclaimStrategy{
		cfg:        cfg,
		store:      store,
		resolver:   conflict.NewResolver(log),
		log:        log,
		ext:        make(map[string][]detect.ExtensionState),
		candidates: make(map[string]map[int][]candidate),
	}
	s.precompute()
	return s
}

func (s *ReclaimStrategy) precompute() {
	validator := &detect.PullbackValidator{
		FibLow:   s.cfg.FibLow,
		FibHigh:  s.cfg.FibHigh,
		Lookback: s.cfg.PullbackLookback,
		ScanBars: s.cfg.PullbackScanBars,
	}
	for _, tf := range s.store.Hierarchy() {
		series, ok := s.store.Get(tf)
		if !ok {
			continue
		}
		det := &detect.ExtensionDetector{
			BaseThreshold: s.threshold(tf),
			Adaptive:      s.cfg.AdaptiveThreshold,
		}
		states := det.Compute(series)
		s.ext[tf] = states

		byBar := make(map[int][]candidate)
		for _, ev := range detect.DetectReclamations(series, states) {
			res := validator.Validate(series, ev.Index, ev.Direction)
			if !res.Valid {
				s.log.Debug("pullback rejected",
					zap.String("timeframe", tf),
					zap.Int("reclaim_index", ev.Index),
					zap.String("reason", res.Reason),
				)
				continue
			}
			barIdx := ev.Index + res.BarOffset
			byBar[barIdx] = append(byBar[barIdx], candidate{event: ev, pullback: res, barIdx: barIdx})
		}
		s.candidates[tf] = byBar
	}
}

func (s *ReclaimStrategy) threshold(tf string) float64 {
	if v, ok := s.cfg.ExtensionThresholds[tf]; ok {
		return v
	}
	return 1.5
}

// Signals emits every signal whose validating bar completed at this
// reference bar, walking the hierarchy from smallest to largest.
func (s *ReclaimStrategy) Signals(refIdx int) []engine.Signal {
	var out []engine.Signal
	for _, tf := range s.store.Hierarchy() {
		lo, hi, ok := s.newlyCompleted(tf, refIdx)
		if !ok {
			continue
		}
		for barIdx := lo; barIdx <= hi; barIdx++ {
			for _, c := range s.candidates[tf][barIdx] {
				if sig, ok := s.buildSignal(tf, refIdx, c); ok {
					out = append(out, sig)
				}
			}
		}
	}
	return out
}

// newlyCompleted returns the inclusive range of tf bar indexes that became
// visible exactly at refIdx.
func (s *ReclaimStrategy) newlyCompleted(tf string, refIdx int) (int, int, bool) {
	j, ok := s.store.AlignedIndex(refIdx, tf)
	if !ok {
		return 0, 0, false
	}
	prev := -1
	if refIdx > 0 {
		if pj, ok := s.store.AlignedIndex(refIdx-1, tf); ok {
			prev = pj
		}
	}
	if j <= prev {
		return 0, 0, false
	}
	return prev + 1, j, true
}

func (s *ReclaimStrategy) buildSignal(tf string, refIdx int, c candidate) (engine.Signal, bool) {
	series, _ := s.store.Get(tf)
	threshold := s.threshold(tf)

	// The triggering extension has to clear the timeframe's bar.
	if c.event.ExtensionATR < threshold {
		return engine.Signal{}, false
	}

	long := c.event.Direction == detect.BullishReclaim
	if s.cfg.RequireColorConfirm && !s.colorConfirmed(series, c.barIdx, long) {
		return engine.Signal{}, false
	}

	bar := series.Bars[c.barIdx]
	entry, _ := bar.Close.Float64()
	stop, ok := s.stopLevel(series, c.barIdx, entry, long)
	if !ok {
		return engine.Signal{}, false
	}

	resolutions, riskFactor := s.resolver.Resolve(s.snapshots(refIdx))
	kind := conflict.NoConflict
	for _, r := range resolutions {
		if r.RiskFactor == riskFactor && r.Kind != conflict.NoConflict {
			kind = r.Kind
			break
		}
	}

	dir := engine.Long
	if !long {
		dir = engine.Short
	}
	sig := engine.Signal{
		Timeframe:    tf,
		Direction:    dir,
		RefIndex:     refIdx,
		Timestamp:    bar.Timestamp + series.DurationMs,
		Entry:        entry,
		Stop:         stop,
		Confidence:   s.confidence(tf, c.event.ExtensionATR, threshold),
		ExtensionATR: c.event.ExtensionATR,
		RiskFactor:   riskFactor,
		ConflictKind: kind.String(),
	}
	s.log.Debug("signal",
		zap.String("timeframe", tf),
		zap.String("direction", dir.String()),
		zap.Float64("entry", entry),
		zap.Float64("stop", stop),
		zap.Float64("confidence", sig.Confidence),
		zap.Float64("risk_factor", riskFactor),
	)
	return sig, true
}

// stopLevel places the stop beyond the recent swing extreme with a buffer,
// falling back to a fixed percentage of price when the swing window is not
// available. A stop on the wrong side of the entry is unusable.
func (s *ReclaimStrategy) stopLevel(series *timeframe.Series, barIdx int, entry float64, long bool) (float64, bool) {
	if long {
		if idx := series.SwingLowIdx(barIdx, s.cfg.PullbackLookback); idx >= 0 {
			low, _ := series.Bars[idx].Low.Float64()
			stop := low * (1 - s.cfg.StopBufferPct)
			if stop < entry {
				return stop, true
			}
		}
		stop := entry * (1 - s.cfg.FallbackStopPct)
		return stop, stop < entry
	}
	if idx := series.SwingHighIdx(barIdx, s.cfg.PullbackLookback); idx >= 0 {
		high, _ := series.Bars[idx].High.Float64()
		stop := high * (1 + s.cfg.StopBufferPct)
		if stop > entry {
			return stop, true
		}
	}
	stop := entry * (1 + s.cfg.FallbackStopPct)
	return stop, stop > entry
}

// confidence starts at 0.5, adds up to 0.3 for extension overshoot past the
// threshold, and up to 0.2 for timeframe rank with the largest timeframe
// worth the full bonus.
func (s *ReclaimStrategy) confidence(tf string, extATR, threshold float64) float64 {
	conf := 0.5
	if threshold > 0 && extATR > threshold {
		overshoot := (extATR - threshold) / threshold
		if overshoot > 1 {
			overshoot = 1
		}
		conf += 0.3 * overshoot
	}
	if top := len(s.store.Hierarchy()) - 1; top > 0 {
		conf += 0.2 * float64(s.store.Rank(tf)) / float64(top)
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// snapshots builds conflict-resolver input for every timeframe at the
// indexes aligned with refIdx. Unmappable timeframes contribute a neutral
// state so the pair still resolves.
func (s *ReclaimStrategy) snapshots(refIdx int) []conflict.TimeframeState {
	out := make([]conflict.TimeframeState, 0, len(s.store.Hierarchy()))
	for _, tf := range s.store.Hierarchy() {
		series, ok := s.store.Get(tf)
		if !ok {
			out = append(out, conflict.TimeframeState{Label: tf})
			continue
		}
		j, ok := s.store.AlignedIndex(refIdx, tf)
		if !ok {
			out = append(out, conflict.TimeframeState{Label: tf})
			continue
		}
		out = append(out, conflict.Snapshot(series, s.ext[tf], j, s.cfg.SlopeSpan))
	}
	return out
}

// barColor grades one candle for the confirmation state machine.
type barColor int

const (
	colorRed barColor = iota
	colorYellow
	colorGreen
)

func colorOf(series *timeframe.Series, i int) barColor {
	bar := series.Bars[i]
	up := bar.IsBullish()
	down := bar.IsBearish()
	rising := i > 0 && series.CloseF(i) > series.CloseF(i-1)
	falling := i > 0 && series.CloseF(i) < series.CloseF(i-1)
	switch {
	case up && rising:
		return colorGreen
	case down && falling:
		return colorRed
	default:
		return colorYellow
	}
}

// colorConfirmed requires the three-bar transition ending at barIdx:
// red, yellow, green for longs and the reverse for shorts.
func (s *ReclaimStrategy) colorConfirmed(series *timeframe.Series, barIdx int, long bool) bool {
	if barIdx < 2 {
		return false
	}
	c0 := colorOf(series, barIdx-2)
	c1 := colorOf(series, barIdx-1)
	c2 := colorOf(series, barIdx)
	if long {
		return c0 == colorRed && c1 == colorYellow && c2 == colorGreen
	}
	return c0 == colorGreen && c1 == colorYellow && c2 == colorRed
}
