package timeframe

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func mkBar(ts int64, o, h, l, c float64) Bar {
	return Bar{
		Timestamp: ts,
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    decimal.NewFromFloat(1),
	}
}

func flatBars(n int, durMs int64, price float64) []Bar {
	bars := make([]Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = mkBar(int64(i)*durMs, price, price, price, price)
	}
	return bars
}

func TestParseDuration(t *testing.T) {
	cases := map[string]int64{
		"5m": 300_000,
		"1h": 3_600_000,
		"4h": 14_400_000,
		"1d": 86_400_000,
	}
	for label, want := range cases {
		got, err := ParseDuration(label)
		if err != nil {
			t.Fatalf("ParseDuration(%s): %v", label, err)
		}
		if got != want {
			t.Fatalf("ParseDuration(%s) = %d, want %d", label, got, want)
		}
	}
	if _, err := ParseDuration("bogus"); err == nil {
		t.Fatal("expected error for bogus label")
	}
}

func TestNewSeriesRejectsUnorderedTimestamps(t *testing.T) {
	bars := []Bar{mkBar(1000, 1, 1, 1, 1), mkBar(1000, 1, 1, 1, 1)}
	if _, err := NewSeries("5m", bars); err == nil {
		t.Fatal("expected error for duplicate timestamps")
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	bars := make([]Bar, 6)
	closes := []float64{10, 11, 12, 13, 14, 15}
	for i, c := range closes {
		bars[i] = mkBar(int64(i)*300_000, c, c, c, c)
	}
	s, err := NewSeries("5m", bars)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ComputeIndicators(MAExponential, 3, 2); err != nil {
		t.Fatal(err)
	}
	// Seed at index 2 is SMA(10,11,12)=11, then alpha=0.5
	if s.MA[1] != 0 {
		t.Fatalf("MA before warm-up = %v, want 0", s.MA[1])
	}
	if s.MA[2] != 11 {
		t.Fatalf("EMA seed = %v, want 11", s.MA[2])
	}
	want := 13*0.5 + 11*0.5
	if math.Abs(s.MA[3]-want) > 1e-9 {
		t.Fatalf("EMA[3] = %v, want %v", s.MA[3], want)
	}
}

func TestATRWilderSmoothing(t *testing.T) {
	// Constant 2-point range, no gaps: TR is 2 everywhere, so ATR must be 2.
	bars := make([]Bar, 10)
	for i := range bars {
		bars[i] = mkBar(int64(i)*300_000, 100, 101, 99, 100)
	}
	s, _ := NewSeries("5m", bars)
	if err := s.ComputeIndicators(MASimple, 3, 3); err != nil {
		t.Fatal(err)
	}
	for i := 3; i < len(bars); i++ {
		if math.Abs(s.ATR[i]-2.0) > 1e-9 {
			t.Fatalf("ATR[%d] = %v, want 2.0", i, s.ATR[i])
		}
	}
}

func TestIndicatorsIdempotent(t *testing.T) {
	bars := make([]Bar, 30)
	for i := range bars {
		c := 100 + float64(i%7)
		bars[i] = mkBar(int64(i)*300_000, c, c+1, c-1, c)
	}
	s, _ := NewSeries("5m", bars)
	if err := s.ComputeIndicators(MAExponential, 5, 5); err != nil {
		t.Fatal(err)
	}
	ma := append([]float64(nil), s.MA...)
	atr := append([]float64(nil), s.ATR...)
	if err := s.ComputeIndicators(MAExponential, 5, 5); err != nil {
		t.Fatal(err)
	}
	for i := range ma {
		if ma[i] != s.MA[i] || atr[i] != s.ATR[i] {
			t.Fatalf("recompute diverged at bar %d", i)
		}
	}
}

func TestInsufficientHistoryLeavesIndicatorsZero(t *testing.T) {
	s, _ := NewSeries("5m", flatBars(3, 300_000, 100))
	if err := s.ComputeIndicators(MAExponential, 20, 14); err != nil {
		t.Fatal(err)
	}
	for i := range s.MA {
		if s.MA[i] != 0 || s.ATR[i] != 0 {
			t.Fatalf("expected zero indicators with short history, got MA=%v ATR=%v at %d", s.MA[i], s.ATR[i], i)
		}
	}
}

func TestResampleAggregatesOHLCV(t *testing.T) {
	bars := []Bar{
		mkBar(0, 10, 12, 9, 11),
		mkBar(300_000, 11, 15, 10, 14),
		mkBar(600_000, 14, 14, 8, 9),
		mkBar(900_000, 9, 10, 9, 10), // next 15m bucket
	}
	out, err := Resample(bars, "5m", "15m")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d buckets, want 2", len(out))
	}
	b := out[0]
	if !b.Open.Equal(decimal.NewFromFloat(10)) || !b.High.Equal(decimal.NewFromFloat(15)) ||
		!b.Low.Equal(decimal.NewFromFloat(8)) || !b.Close.Equal(decimal.NewFromFloat(9)) {
		t.Fatalf("bad aggregation: %+v", b)
	}
	if !b.Volume.Equal(decimal.NewFromFloat(3)) {
		t.Fatalf("volume = %v, want 3", b.Volume)
	}
}

func TestAlignmentIsMonotonicAndRightEdged(t *testing.T) {
	refBars := flatBars(12, 300_000, 100)
	st, err := BuildStore([]string{"5m", "15m"}, refBars, MASimple, 2, 2)
	if err != nil {
		t.Fatal(err)
	}

	// The first 15m bar closes at t=900000, which is the close of ref bar 2.
	if _, ok := st.AlignedIndex(0, "15m"); ok {
		t.Fatal("15m bar visible before it closed")
	}
	if _, ok := st.AlignedIndex(1, "15m"); ok {
		t.Fatal("15m bar visible before it closed")
	}
	j, ok := st.AlignedIndex(2, "15m")
	if !ok || j != 0 {
		t.Fatalf("AlignedIndex(2) = %d,%v, want 0,true", j, ok)
	}

	prev := -1
	for i := 0; i < 12; i++ {
		j, ok := st.AlignedIndex(i, "15m")
		if !ok {
			continue
		}
		if j < prev {
			t.Fatalf("alignment decreased at ref bar %d: %d -> %d", i, prev, j)
		}
		prev = j
	}
}

func TestSwingIndexes(t *testing.T) {
	bars := []Bar{
		mkBar(0, 10, 11, 9, 10),
		mkBar(300_000, 10, 13, 8, 12),
		mkBar(600_000, 12, 12, 10, 11),
	}
	s, _ := NewSeries("5m", bars)
	if got := s.SwingLowIdx(2, 2); got != 1 {
		t.Fatalf("SwingLowIdx = %d, want 1", got)
	}
	if got := s.SwingHighIdx(2, 2); got != 1 {
		t.Fatalf("SwingHighIdx = %d, want 1", got)
	}
	if got := s.SwingLowIdx(2, 5); got != -1 {
		t.Fatalf("SwingLowIdx beyond history = %d, want -1", got)
	}
}
