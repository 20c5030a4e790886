package backtest

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"reclaim-backtest/services/config"
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

// spikeBars is a displacement below the average followed by a recovery and a
// retracement, which yields exactly one long entry.
func spikeBars() []timeframe.Bar {
	return []timeframe.Bar{
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
}

func pipelineConfig() *config.Config {
	cfg := config.Default()
	cfg.Hierarchy = []string{"5m"}
	cfg.ExtensionThresholds = map[string]float64{"5m": 1.0}
	cfg.AdaptiveThreshold = false
	cfg.PullbackLookback = 5
	cfg.PullbackScanBars = 5
	cfg.RequireColorConfirm = false
	cfg.MAKind = timeframe.MASimple
	cfg.MAPeriod = 3
	cfg.ATRPeriod = 3
	cfg.CommissionRate = 0
	cfg.SlippageRate = 0
	return cfg
}

func TestRunFullPipeline(t *testing.T) {
	bars := spikeBars()
	result, err := Run(context.Background(), pipelineConfig(), bars, "TESTUSDT", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Equity) != len(bars)+1 {
		t.Fatalf("equity length = %d, want %d", len(result.Equity), len(bars)+1)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.Symbol != "TESTUSDT" {
		t.Fatalf("symbol = %s", trade.Symbol)
	}
	if trade.ExitReason != "end_of_data" {
		t.Fatalf("exit reason = %s, want end_of_data", trade.ExitReason)
	}
	if result.Metrics.TotalTrades != 1 {
		t.Fatalf("metrics trades = %d, want 1", result.Metrics.TotalTrades)
	}
}

func TestRunHonorsMAKind(t *testing.T) {
	bars := spikeBars()

	sma, err := Run(context.Background(), pipelineConfig(), bars, "TESTUSDT", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sma.Trades) != 1 {
		t.Fatalf("simple MA trades = %d, want 1", len(sma.Trades))
	}

	// The exponential average reacts faster on this short history, so the
	// reclaim setup never validates and no trade fires.
	cfg := pipelineConfig()
	cfg.MAKind = timeframe.MAExponential
	ema, err := Run(context.Background(), cfg, bars, "TESTUSDT", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ema.Trades) != 0 {
		t.Fatalf("exponential MA trades = %d, want 0 on this fixture", len(ema.Trades))
	}
}

func TestRunIsRepeatable(t *testing.T) {
	bars := spikeBars()
	a, err := Run(context.Background(), pipelineConfig(), bars, "TESTUSDT", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Run(context.Background(), pipelineConfig(), bars, "TESTUSDT", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Trades) != len(b.Trades) {
		t.Fatalf("trade counts differ: %d vs %d", len(a.Trades), len(b.Trades))
	}
	for i := range a.Trades {
		x, y := a.Trades[i], b.Trades[i]
		x.ID, y.ID = "", ""
		if x != y {
			t.Fatalf("trade %d differs: %+v vs %+v", i, x, y)
		}
	}
	if a.Metrics.NetProfit != b.Metrics.NetProfit {
		t.Fatalf("net profit differs: %v vs %v", a.Metrics.NetProfit, b.Metrics.NetProfit)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := pipelineConfig()
	cfg.RiskPercent = 0
	if _, err := Run(context.Background(), cfg, spikeBars(), "TESTUSDT", nil); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRunnerMatchesDirectRun(t *testing.T) {
	bars := spikeBars()
	runner := NewRunner(bars, "TESTUSDT", nil)
	m, err := runner(pipelineConfig())
	if err != nil {
		t.Fatal(err)
	}
	direct, err := Run(context.Background(), pipelineConfig(), bars, "TESTUSDT", nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.NetProfit != direct.Metrics.NetProfit || m.TotalTrades != direct.Metrics.TotalTrades {
		t.Fatalf("runner metrics %+v differ from direct run %+v", m, direct.Metrics)
	}
}

func TestManifestSnapshotsRun(t *testing.T) {
	cfg := pipelineConfig()
	bars := spikeBars()
	m := NewManifest(cfg, bars, "TESTUSDT")
	if m.JobID == "" {
		t.Fatal("manifest needs a job id")
	}
	if m.Bars != len(bars) {
		t.Fatalf("bars = %d, want %d", m.Bars, len(bars))
	}
	if m.FirstBarTs != 0 || m.LastBarTs != 2_700_000 {
		t.Fatalf("window [%d,%d] wrong", m.FirstBarTs, m.LastBarTs)
	}
	if m.Params["extension_threshold.5m"] != "1" {
		t.Fatalf("threshold param = %q", m.Params["extension_threshold.5m"])
	}

	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := WriteManifest(path, m); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}

func TestExportTradesCSV(t *testing.T) {
	result, err := Run(context.Background(), pipelineConfig(), spikeBars(), "TESTUSDT", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Trades) == 0 {
		t.Fatal("fixture produced no trades; nothing to export")
	}
	path := filepath.Join(t.TempDir(), "trades.csv")
	if err := ExportTradesCSV(path, result.Trades); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != len(result.Trades)+1 {
		t.Fatalf("rows = %d, want header plus %d trades", len(rows), len(result.Trades))
	}
	if rows[0][0] != "id" || rows[0][2] != "direction" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	if rows[1][2] != "long" {
		t.Fatalf("direction column = %q, want long", rows[1][2])
	}
}

func TestExportEquityCSV(t *testing.T) {
	result, err := Run(context.Background(), pipelineConfig(), spikeBars(), "TESTUSDT", nil)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "equity.csv")
	if err := ExportEquityCSV(path, result.Equity); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != len(result.Equity)+1 {
		t.Fatalf("rows = %d, want header plus %d points", len(rows), len(result.Equity))
	}
}
