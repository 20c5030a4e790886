// Package detect computes per-bar extension state, reclamation events and
// pullback validation for one timeframe series.
package detect

import (
	"math"

	"reclaim-backtest/services/timeframe"
)

// ExtensionDirection labels which side of the moving average price has
// extended to.
type ExtensionDirection int

const (
	ExtensionNone ExtensionDirection = iota
	ExtensionUp
	ExtensionDown
)

func (d ExtensionDirection) String() string {
	switch d {
	case ExtensionUp:
		return "up"
	case ExtensionDown:
		return "down"
	default:
		return "none"
	}
}

// ExtensionState is the derived per-bar extension snapshot. Recomputed in
// full whenever the underlying series changes; never stored across runs.
type ExtensionState struct {
	Distance    float64 // absolute distance from the MA
	DistanceATR float64 // distance normalized by ATR
	Direction   ExtensionDirection
	Threshold   float64 // adaptive threshold actually applied at this bar
	Extended    bool
	Duration    int // consecutive extended bars including this one
}

// ExtensionDetector flags bars whose ATR-normalized distance from the
// moving average exceeds a base threshold. With Adaptive set, the threshold
// scales with the ratio of current ATR to its rolling average, clamped to
// [0.7x, 1.5x] of the base.
type ExtensionDetector struct {
	BaseThreshold float64
	Adaptive      bool
	VolWindow     int // rolling window for the ATR average, default 20
}

const (
	adaptiveClampLow  = 0.7
	adaptiveClampHigh = 1.5
)

// Compute returns one ExtensionState per bar. Bars before indicator warm-up
// report a neutral state rather than an error.
func (d *ExtensionDetector) Compute(s *timeframe.Series) []ExtensionState {
	states := make([]ExtensionState, s.Len())
	if s.Len() == 0 || len(s.MA) != s.Len() || len(s.ATR) != s.Len() {
		return states
	}
	window := d.VolWindow
	if window <= 0 {
		window = 20
	}

	var atrSum float64
	atrCount := 0
	for i := 0; i < s.Len(); i++ {
		ma := s.MA[i]
		atr := s.ATR[i]

		// Rolling ATR average over the trailing window, ready bars only.
		if atr > 0 {
			atrSum += atr
			atrCount++
			if atrCount > window {
				atrSum -= s.ATR[i-window]
				atrCount--
			}
		}

		if ma == 0 || atr == 0 {
			continue // warm-up, neutral state
		}

		close := s.CloseF(i)
		dist := close - ma

		threshold := d.BaseThreshold
		if d.Adaptive && atrCount > 0 {
			avg := atrSum / float64(atrCount)
			if avg > 0 {
				scale := atr / avg
				if scale < adaptiveClampLow {
					scale = adaptiveClampLow
				} else if scale > adaptiveClampHigh {
					scale = adaptiveClampHigh
				}
				threshold = d.BaseThreshold * scale
			}
		}

		st := ExtensionState{
			Distance:    math.Abs(dist),
			DistanceATR: math.Abs(dist) / atr,
			Threshold:   threshold,
		}
		if st.DistanceATR > threshold {
			st.Extended = true
			if dist > 0 {
				st.Direction = ExtensionUp
			} else {
				st.Direction = ExtensionDown
			}
			if i > 0 && states[i-1].Extended && states[i-1].Direction == st.Direction {
				st.Duration = states[i-1].Duration + 1
			} else {
				st.Duration = 1
			}
		}
		states[i] = st
	}
	return states
}

// TransitionKind labels the boolean edges of the extended flag.
type TransitionKind int

const (
	NewExtension TransitionKind = iota
	ExtensionEnd
)

// Transition is an extension state edge. For ExtensionEnd the direction and
// peak refer to the episode that just ended, and PeakATR carries its largest
// normalized distance.
type Transition struct {
	Index     int
	Kind      TransitionKind
	Direction ExtensionDirection
	PeakATR   float64
}

// Transitions derives the new-extension and extension-end edges from a state
// array.
func Transitions(states []ExtensionState) []Transition {
	var out []Transition
	var peak float64
	for i := 1; i < len(states); i++ {
		prev, cur := states[i-1], states[i]
		if cur.Extended {
			if cur.DistanceATR > peak {
				peak = cur.DistanceATR
			}
		}
		switch {
		case !prev.Extended && cur.Extended:
			peak = cur.DistanceATR
			out = append(out, Transition{Index: i, Kind: NewExtension, Direction: cur.Direction})
		case prev.Extended && !cur.Extended:
			out = append(out, Transition{Index: i, Kind: ExtensionEnd, Direction: prev.Direction, PeakATR: peak})
			peak = 0
		}
	}
	return out
}
