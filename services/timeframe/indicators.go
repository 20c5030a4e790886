package timeframe

import (
	"fmt"
	"math"
)

// MAKind selects the moving-average flavor. Closed enumeration, dispatched
// by switch.
type MAKind int

const (
	MASimple MAKind = iota
	MAExponential
)

func (k MAKind) String() string {
	switch k {
	case MASimple:
		return "sma"
	case MAExponential:
		return "ema"
	default:
		return "unknown"
	}
}

// ComputeIndicators fills the MA and ATR parallel arrays. Calling it again
// on unchanged bars produces identical arrays. With fewer bars than the
// windows require, the arrays stay zero and downstream components treat
// every bar as "not ready".
func (s *Series) ComputeIndicators(kind MAKind, maPeriod, atrPeriod int) error {
	if maPeriod < 2 || atrPeriod < 2 {
		return fmt.Errorf("indicator periods must be >= 2 (ma=%d atr=%d)", maPeriod, atrPeriod)
	}
	s.MA = make([]float64, len(s.Bars))
	s.ATR = make([]float64, len(s.Bars))

	switch kind {
	case MASimple:
		s.computeSMA(maPeriod, s.MA)
	case MAExponential:
		s.computeEMA(maPeriod, s.MA)
	default:
		return fmt.Errorf("unknown MA kind %d", kind)
	}
	s.computeATR(atrPeriod, s.ATR)
	return nil
}

func (s *Series) computeSMA(period int, result []float64) {
	if len(s.Bars) < period {
		return
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += s.CloseF(i)
	}
	result[period-1] = sum / float64(period)
	for i := period; i < len(s.Bars); i++ {
		sum += s.CloseF(i) - s.CloseF(i-period)
		result[i] = sum / float64(period)
	}
}

func (s *Series) computeEMA(period int, result []float64) {
	if len(s.Bars) < period {
		return
	}

	// Seed with SMA of the first N bars, then EMA = close*α + prev*(1-α)
	var sma float64
	for i := 0; i < period; i++ {
		sma += s.CloseF(i)
	}
	sma /= float64(period)
	result[period-1] = sma

	alpha := 2.0 / float64(period+1)
	oneMinusAlpha := 1.0 - alpha
	for i := period; i < len(s.Bars); i++ {
		result[i] = s.CloseF(i)*alpha + result[i-1]*oneMinusAlpha
	}
}

func (s *Series) computeATR(period int, result []float64) {
	if len(s.Bars) < period+1 {
		return
	}

	tr := make([]float64, len(s.Bars))
	for i := 1; i < len(s.Bars); i++ {
		high, _ := s.Bars[i].High.Float64()
		low, _ := s.Bars[i].Low.Float64()
		prevClose := s.CloseF(i - 1)

		tr1 := high - low
		tr2 := math.Abs(high - prevClose)
		tr3 := math.Abs(low - prevClose)
		tr[i] = math.Max(tr1, math.Max(tr2, tr3))
	}

	// Wilder's RMA seeded with the SMA of the first N true ranges
	var atr float64
	for i := 1; i <= period; i++ {
		atr += tr[i]
	}
	atr /= float64(period)
	result[period] = atr

	periodMinus1 := float64(period - 1)
	periodFloat := float64(period)
	for i := period + 1; i < len(s.Bars); i++ {
		atr = (atr*periodMinus1 + tr[i]) / periodFloat
		result[i] = atr
	}
}

// MASlope returns the per-bar slope of the moving average at index i over
// the given span, or 0 when the window is not ready.
func (s *Series) MASlope(i, span int) float64 {
	if span < 1 || i < span || i >= len(s.MA) {
		return 0
	}
	if s.MA[i] == 0 || s.MA[i-span] == 0 {
		return 0
	}
	return (s.MA[i] - s.MA[i-span]) / float64(span)
}

// SwingLowIdx returns the index of the lowest low in [i-lookback, i], or -1
// when the window falls before the start of the series.
func (s *Series) SwingLowIdx(i, lookback int) int {
	start := i - lookback
	if start < 0 || i >= len(s.Bars) {
		return -1
	}
	best := start
	for j := start + 1; j <= i; j++ {
		if s.Bars[j].Low.LessThan(s.Bars[best].Low) {
			best = j
		}
	}
	return best
}

// SwingHighIdx returns the index of the highest high in [i-lookback, i], or
// -1 when the window falls before the start of the series.
func (s *Series) SwingHighIdx(i, lookback int) int {
	start := i - lookback
	if start < 0 || i >= len(s.Bars) {
		return -1
	}
	best := start
	for j := start + 1; j <= i; j++ {
		if s.Bars[j].High.GreaterThan(s.Bars[best].High) {
			best = j
		}
	}
	return best
}
