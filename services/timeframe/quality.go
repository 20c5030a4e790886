package timeframe

// QualityReport summarizes the health of a loaded bar series. Ordering and
// dedup are enforced at load time, so the report covers cadence and gaps.
type QualityReport struct {
	Bars        int
	CadenceMs   int64 // modal bar-to-bar delta
	Gaps        int   // deltas larger than the cadence
	MissingBars int   // bars a gapless series would additionally contain
}

// ValidateQuality infers the series cadence from the most common timestamp
// delta and counts the gaps against it. Fewer than two bars yields an empty
// report.
func ValidateQuality(bars []Bar) QualityReport {
	rep := QualityReport{Bars: len(bars)}
	if len(bars) < 2 {
		return rep
	}

	counts := make(map[int64]int)
	for i := 1; i < len(bars); i++ {
		counts[bars[i].Timestamp-bars[i-1].Timestamp]++
	}
	best := 0
	for delta, n := range counts {
		if n > best || (n == best && delta < rep.CadenceMs) {
			best = n
			rep.CadenceMs = delta
		}
	}

	for i := 1; i < len(bars); i++ {
		delta := bars[i].Timestamp - bars[i-1].Timestamp
		if delta > rep.CadenceMs {
			rep.Gaps++
			rep.MissingBars += int(delta/rep.CadenceMs) - 1
		}
	}
	return rep
}
