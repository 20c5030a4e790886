package detect

import (
	"reclaim-backtest/services/timeframe"
)

// ReclaimDirection labels which way price crossed back through the moving
// average.
type ReclaimDirection int

const (
	BullishReclaim ReclaimDirection = iota
	BearishReclaim
)

func (d ReclaimDirection) String() string {
	if d == BullishReclaim {
		return "bullish"
	}
	return "bearish"
}

// ReclamationEvent marks the bar on which price crossed back through the MA
// after an extension episode ended. ExtensionATR carries the episode's peak
// normalized distance; signal generation checks it against the timeframe
// threshold.
type ReclamationEvent struct {
	Index        int
	Direction    ReclaimDirection
	MAValue      float64
	ExtensionATR float64
}

// DetectReclamations scans a series with its extension states for
// reclamation bars. A bullish reclaim fires when the close crosses from at
// or below the MA to above it on the bar immediately following an
// extension-end-down edge; bearish is the mirror. At most one event per
// episode and at most one label per bar.
func DetectReclamations(s *timeframe.Series, states []ExtensionState) []ReclamationEvent {
	var events []ReclamationEvent
	for _, tr := range Transitions(states) {
		if tr.Kind != ExtensionEnd {
			continue
		}
		i := tr.Index + 1
		if i >= s.Len() || len(s.MA) != s.Len() {
			continue
		}
		if s.MA[i] == 0 || s.MA[i-1] == 0 {
			continue
		}
		prevClose := s.CloseF(i - 1)
		close := s.CloseF(i)
		switch tr.Direction {
		case ExtensionDown:
			if prevClose <= s.MA[i-1] && close > s.MA[i] {
				events = append(events, ReclamationEvent{
					Index:        i,
					Direction:    BullishReclaim,
					MAValue:      s.MA[i],
					ExtensionATR: tr.PeakATR,
				})
			}
		case ExtensionUp:
			if prevClose >= s.MA[i-1] && close < s.MA[i] {
				events = append(events, ReclamationEvent{
					Index:        i,
					Direction:    BearishReclaim,
					MAValue:      s.MA[i],
					ExtensionATR: tr.PeakATR,
				})
			}
		}
	}
	return events
}
