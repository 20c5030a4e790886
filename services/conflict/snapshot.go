package conflict

import (
	"reclaim-backtest/services/detect"
	"reclaim-backtest/services/timeframe"
)

// Snapshot builds the resolver input for one timeframe at one bar. Slope and
// momentum are computed over span bars and divided by ATR so they are unit
// free; bars before warm-up produce an all-neutral state.
func Snapshot(s *timeframe.Series, ext []detect.ExtensionState, idx, span int) TimeframeState {
	st := TimeframeState{Label: s.Label}
	if idx < 0 || idx >= s.Len() || len(ext) != s.Len() {
		return st
	}

	e := ext[idx]
	st.Extended = e.Extended
	switch e.Direction {
	case detect.ExtensionUp:
		st.ExtensionDirection = 1
	case detect.ExtensionDown:
		st.ExtensionDirection = -1
	}

	atr := 0.0
	if len(s.ATR) == s.Len() {
		atr = s.ATR[idx]
	}
	if atr == 0 || span < 1 || idx < span {
		return st
	}

	if slope := s.MASlope(idx, span); slope != 0 || s.MA[idx] != 0 {
		st.TrendSlope = slope / atr
		st.SlopeValid = s.MA[idx] != 0 && s.MA[idx-span] != 0
	}
	st.Momentum = (s.CloseF(idx) - s.CloseF(idx-span)) / float64(span) / atr
	st.MomentumValid = true

	// Divergence inputs: a fresh price extreme over the span without a
	// fresh extension extreme.
	priceHigh, priceLow := true, true
	indicatorPeak := true
	for j := idx - span; j < idx; j++ {
		if s.Bars[j].High.GreaterThanOrEqual(s.Bars[idx].High) {
			priceHigh = false
		}
		if s.Bars[j].Low.LessThanOrEqual(s.Bars[idx].Low) {
			priceLow = false
		}
		if ext[j].DistanceATR >= e.DistanceATR {
			indicatorPeak = false
		}
	}
	st.PriceExtreme = priceHigh || priceLow
	st.IndicatorExtreme = indicatorPeak
	return st
}
