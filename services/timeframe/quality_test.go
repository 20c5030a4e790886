package timeframe

import "testing"

func TestValidateQualityCleanSeries(t *testing.T) {
	bars := flatBars(10, 300_000, 100)
	rep := ValidateQuality(bars)
	if rep.CadenceMs != 300_000 {
		t.Fatalf("cadence = %d, want 300000", rep.CadenceMs)
	}
	if rep.Gaps != 0 || rep.MissingBars != 0 {
		t.Fatalf("clean series reported gaps: %+v", rep)
	}
}

func TestValidateQualityCountsGaps(t *testing.T) {
	bars := flatBars(6, 300_000, 100)
	// Drop two bars worth of time between index 2 and 3.
	for i := 3; i < len(bars); i++ {
		bars[i].Timestamp += 600_000
	}
	rep := ValidateQuality(bars)
	if rep.CadenceMs != 300_000 {
		t.Fatalf("cadence = %d, want 300000", rep.CadenceMs)
	}
	if rep.Gaps != 1 {
		t.Fatalf("gaps = %d, want 1", rep.Gaps)
	}
	if rep.MissingBars != 2 {
		t.Fatalf("missing = %d, want 2", rep.MissingBars)
	}
}

func TestValidateQualityShortSeries(t *testing.T) {
	rep := ValidateQuality(flatBars(1, 300_000, 100))
	if rep.CadenceMs != 0 || rep.Gaps != 0 {
		t.Fatalf("short series should be empty: %+v", rep)
	}
}
