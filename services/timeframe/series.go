// Package timeframe holds per-timeframe bar series, their derived indicator
// arrays, and the alignment tables that map bar indexes between timeframes.
package timeframe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Bar is a single OHLCV candle. Timestamp is the bar open time in unix
// milliseconds. Bars are value types; once appended to a Series they are
// never mutated.
type Bar struct {
	Timestamp int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// IsBullish reports whether the candle body closed up.
func (b Bar) IsBullish() bool {
	return b.Close.GreaterThan(b.Open)
}

// IsBearish reports whether the candle body closed down.
func (b Bar) IsBearish() bool {
	return b.Close.LessThan(b.Open)
}

// Series is one timeframe's ordered bars plus parallel indicator arrays.
// Indicator slots before the warm-up index hold zero; consumers treat a
// zero MA/ATR as "not ready" and skip the bar.
type Series struct {
	Label      string
	DurationMs int64
	Bars       []Bar

	// Parallel arrays, same length as Bars after ComputeIndicators.
	MA  []float64
	ATR []float64
}

// NewSeries validates the bar order and wraps it with its timeframe label.
func NewSeries(label string, bars []Bar) (*Series, error) {
	dur, err := ParseDuration(label)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp <= bars[i-1].Timestamp {
			return nil, fmt.Errorf("series %s: timestamps not strictly increasing at index %d", label, i)
		}
	}
	return &Series{Label: label, DurationMs: dur, Bars: bars}, nil
}

// Len returns the bar count.
func (s *Series) Len() int { return len(s.Bars) }

// CloseF returns the close of bar i as a float64 for indicator math.
func (s *Series) CloseF(i int) float64 {
	f, _ := s.Bars[i].Close.Float64()
	return f
}

// ParseDuration converts a timeframe label like "5m", "1h", "1d" into
// milliseconds.
func ParseDuration(label string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(label))
	var unit int64
	switch {
	case strings.HasSuffix(s, "ms"):
		return 0, fmt.Errorf("unsupported timeframe label %q", label)
	case strings.HasSuffix(s, "m"):
		unit = 60_000
	case strings.HasSuffix(s, "h"):
		unit = 3_600_000
	case strings.HasSuffix(s, "d"):
		unit = 86_400_000
	case strings.HasSuffix(s, "w"):
		unit = 7 * 86_400_000
	default:
		return 0, fmt.Errorf("unsupported timeframe label %q", label)
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported timeframe label %q", label)
	}
	return n * unit, nil
}
