package detect

import (
	"fmt"

	"reclaim-backtest/services/timeframe"
)

// PullbackResult reports whether a valid retracement followed a reclamation.
// BarOffset is the number of bars after the reclamation bar at which the
// validating bar sits; -1 when invalid.
type PullbackResult struct {
	Valid     bool
	BarOffset int
	Ratio     float64 // retracement ratio of the validating bar's extreme
	FibNear   float64 // shallow band edge in price terms
	FibFar    float64 // deep band edge in price terms
	Reason    string
}

// PullbackValidator checks that the retracement after a reclamation lands
// inside a Fibonacci band measured between the recent swing extreme and the
// MA value at the reclamation bar.
type PullbackValidator struct {
	FibLow   float64 // e.g. 0.382
	FibHigh  float64 // e.g. 0.618
	Lookback int     // swing window ending at the reclamation bar
	ScanBars int     // bars scanned after the reclamation
}

func invalid(reason string) PullbackResult {
	return PullbackResult{Valid: false, BarOffset: -1, Reason: reason}
}

// Validate scans up to ScanBars bars after the reclamation for the first bar
// that (a) retraces into the fib band, (b) holds the swing (higher low for
// long, lower high for short), and (c) closes in the trade direction. A
// zero-range swing reports ratio 0.0 and invalid instead of dividing.
func (v *PullbackValidator) Validate(s *timeframe.Series, reclaimIdx int, dir ReclaimDirection) PullbackResult {
	if reclaimIdx < 0 || reclaimIdx >= s.Len() || len(s.MA) != s.Len() {
		return invalid("reclamation index out of range")
	}
	ma := s.MA[reclaimIdx]
	if ma == 0 {
		return invalid("moving average not ready at reclamation")
	}

	var swingIdx int
	if dir == BullishReclaim {
		swingIdx = s.SwingLowIdx(reclaimIdx, v.Lookback)
	} else {
		swingIdx = s.SwingHighIdx(reclaimIdx, v.Lookback)
	}
	if swingIdx < 0 {
		return invalid("insufficient history for swing lookup")
	}

	var swing float64
	if dir == BullishReclaim {
		swing, _ = s.Bars[swingIdx].Low.Float64()
	} else {
		swing, _ = s.Bars[swingIdx].High.Float64()
	}

	span := ma - swing // positive for long, negative for short
	if span == 0 {
		r := invalid("zero retracement range")
		r.Ratio = 0.0
		return r
	}

	// Band edges in price terms. fibNear is the shallow retracement, fibFar
	// the deep one; for longs fibFar < fibNear, for shorts the reverse.
	fibNear := ma - span*v.FibLow
	fibFar := ma - span*v.FibHigh

	end := reclaimIdx + v.ScanBars
	if end >= s.Len() {
		end = s.Len() - 1
	}
	for i := reclaimIdx + 1; i <= end; i++ {
		bar := s.Bars[i]
		if dir == BullishReclaim {
			low, _ := bar.Low.Float64()
			inBand := low <= fibNear && low >= fibFar
			holdsSwing := low > swing
			if inBand && holdsSwing && bar.IsBullish() {
				return PullbackResult{
					Valid:     true,
					BarOffset: i - reclaimIdx,
					Ratio:     (ma - low) / span,
					FibNear:   fibNear,
					FibFar:    fibFar,
				}
			}
		} else {
			high, _ := bar.High.Float64()
			inBand := high >= fibNear && high <= fibFar
			holdsSwing := high < swing
			if inBand && holdsSwing && bar.IsBearish() {
				return PullbackResult{
					Valid:     true,
					BarOffset: i - reclaimIdx,
					Ratio:     (ma - high) / span,
					FibNear:   fibNear,
					FibFar:    fibFar,
				}
			}
		}
	}
	return invalid(fmt.Sprintf("no valid pullback within %d bars", v.ScanBars))
}
