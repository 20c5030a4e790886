package strategies

import (
	"testing"

	"github.com/shopspring/decimal"

	"reclaim-backtest/services/config"
	"reclaim-backtest/services/engine"
	"reclaim-backtest/services/timeframe"
)

func mkBar(ts int64, o, h, l, c float64) timeframe.Bar {
	return timeframe.Bar{
		Timestamp: ts,
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    decimal.NewFromFloat(1),
	}
}

// spikeStore is a single-timeframe market with a displacement below the
// average, a recovery through it, and a retracement into the fib band.
func spikeStore(t *testing.T) *timeframe.Store {
	t.Helper()
	bars := []timeframe.Bar{
		mkBar(0, 100, 100.5, 99.5, 100),
		mkBar(300_000, 100, 100.5, 99.5, 100),
		mkBar(600_000, 100, 100.5, 99.5, 100),
		mkBar(900_000, 100, 100.5, 99.5, 100),
		mkBar(1_200_000, 100, 100.5, 99.5, 100),
		mkBar(1_500_000, 100, 100, 95.5, 96),
		mkBar(1_800_000, 96, 99, 96, 98),
		mkBar(2_100_000, 98, 99.5, 97.8, 99.4),
		mkBar(2_400_000, 96.7, 97.3, 96.5, 97.2),
		mkBar(2_700_000, 97.2, 98, 97, 97.8),
	}
	st, err := timeframe.BuildStore([]string{"5m"}, bars, timeframe.MASimple, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func strategyConfig() *config.Config {
	cfg := config.Default()
	cfg.Hierarchy = []string{"5m"}
	cfg.ExtensionThresholds = map[string]float64{"5m": 1.0}
	cfg.AdaptiveThreshold = false
	cfg.FibLow = 0.382
	cfg.FibHigh = 0.618
	cfg.PullbackLookback = 5
	cfg.PullbackScanBars = 5
	cfg.RequireColorConfirm = false
	cfg.MAPeriod = 3
	cfg.ATRPeriod = 3
	return cfg
}

func collectSignals(s *ReclaimStrategy, bars int) []engine.Signal {
	var out []engine.Signal
	for i := 0; i < bars; i++ {
		out = append(out, s.Signals(i)...)
	}
	return out
}

func TestSpikeProducesOneLongSignal(t *testing.T) {
	st := spikeStore(t)
	s := NewReclaimStrategy(strategyConfig(), st, nil)

	signals := collectSignals(s, 10)
	if len(signals) != 1 {
		t.Fatalf("got %d signals, want 1", len(signals))
	}
	sig := signals[0]
	if sig.Direction != engine.Long {
		t.Fatalf("direction = %v, want long", sig.Direction)
	}
	if sig.Timeframe != "5m" {
		t.Fatalf("timeframe = %s, want 5m", sig.Timeframe)
	}
	if sig.Confidence < 0.5 {
		t.Fatalf("confidence = %v, want >= 0.5", sig.Confidence)
	}
	if sig.RiskFactor != 1.0 {
		t.Fatalf("risk factor = %v, want 1.0 with a single timeframe", sig.RiskFactor)
	}
	if sig.Stop >= sig.Entry {
		t.Fatalf("stop %v must sit below entry %v", sig.Stop, sig.Entry)
	}
	// Swing low 95.5 buffered below entry 97.2.
	want := 95.5 * (1 - 0.001)
	if diff := sig.Stop - want; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("stop = %v, want buffered swing low %v", sig.Stop, want)
	}
}

func TestSignalsAreDeterministic(t *testing.T) {
	st := spikeStore(t)
	a := collectSignals(NewReclaimStrategy(strategyConfig(), st, nil), 10)
	b := collectSignals(NewReclaimStrategy(strategyConfig(), st, nil), 10)
	if len(a) != len(b) {
		t.Fatalf("signal counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("signal %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestThresholdGateRejectsWeakExtension(t *testing.T) {
	cfg := strategyConfig()
	cfg.ExtensionThresholds = map[string]float64{"5m": 5.0}
	s := NewReclaimStrategy(cfg, spikeStore(t), nil)
	if signals := collectSignals(s, 10); len(signals) != 0 {
		t.Fatalf("got %d signals, want 0 with an unreachable threshold", len(signals))
	}
}

func TestColorConfirmationGate(t *testing.T) {
	cfg := strategyConfig()
	cfg.RequireColorConfirm = true
	s := NewReclaimStrategy(cfg, spikeStore(t), nil)
	// The validating bar closes below the prior close, so the three-bar
	// transition never reaches green and the signal is withheld.
	if signals := collectSignals(s, 10); len(signals) != 0 {
		t.Fatalf("got %d signals, want 0 without color confirmation", len(signals))
	}
}

func TestFallbackStopWhenSwingWindowMissing(t *testing.T) {
	cfg := strategyConfig()
	cfg.PullbackLookback = 5
	st := spikeStore(t)
	s := NewReclaimStrategy(cfg, st, nil)

	series, _ := st.Get("5m")
	stop, ok := s.stopLevel(series, 2, 100, true) // window reaches before bar 0
	if !ok {
		t.Fatal("fallback stop should be usable")
	}
	want := 100 * (1 - cfg.FallbackStopPct)
	if stop != want {
		t.Fatalf("stop = %v, want fallback %v", stop, want)
	}
}

func TestConfidenceCapsAtOne(t *testing.T) {
	s := NewReclaimStrategy(strategyConfig(), spikeStore(t), nil)
	if c := s.confidence("5m", 100, 1.0); c > 1.0 {
		t.Fatalf("confidence = %v, want capped at 1.0", c)
	}
}
