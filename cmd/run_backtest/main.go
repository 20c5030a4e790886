package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"reclaim-backtest/services/arrowpipeline"
	"reclaim-backtest/services/backtest"
	"reclaim-backtest/services/clickhouse"
	"reclaim-backtest/services/config"
	"reclaim-backtest/services/timeframe"
)

func main() {
	// Flags
	csvPath := flag.String("csv", "", "Path to local CSV; if set, skip ClickHouse")
	chAddr := flag.String("ch-addr", "localhost:19000", "ClickHouse native address")
	db := flag.String("db", "backtest", "ClickHouse database")
	table := flag.String("table", "data", "ClickHouse table")
	user := flag.String("ch-user", "backtest", "ClickHouse user")
	pass := flag.String("ch-pass", "backtest123", "ClickHouse password")
	symbol := flag.String("symbol", "BTCUSDT", "Trading symbol")
	from := flag.String("from", "2020-09-01 00:00:00", "Start UTC (YYYY-MM-DD HH:MM:SS)")
	to := flag.String("to", "2024-10-01 00:00:00", "End UTC (YYYY-MM-DD HH:MM:SS)")
	outDir := flag.String("out-dir", ".", "Directory for trades/equity/manifest output")
	arrowOut := flag.String("arrow-out", "", "Optional path for an Arrow IPC equity payload")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Load reference bars either from a local CSV or from ClickHouse.
	var bars []timeframe.Bar
	if *csvPath != "" {
		bars, err = timeframe.LoadCSV(*csvPath)
		if err != nil {
			panic(err)
		}
		logger.Info("loaded bars from CSV", zap.String("path", *csvPath), zap.Int("bars", len(bars)))
		if rep := timeframe.ValidateQuality(bars); rep.Gaps > 0 {
			logger.Warn("bar series has gaps",
				zap.Int64("cadence_ms", rep.CadenceMs),
				zap.Int("gaps", rep.Gaps),
				zap.Int("missing_bars", rep.MissingBars))
		}
	} else {
		startMs, err := parseUTC(*from)
		if err != nil {
			panic(err)
		}
		endMs, err := parseUTC(*to)
		if err != nil {
			panic(err)
		}
		ctx := context.Background()
		ch, err := clickhouse.NewClient(ctx, clickhouse.Options{
			Addr:     *chAddr,
			Database: *db,
			Username: *user,
			Password: *pass,
			Table:    *table,
		})
		if err != nil {
			panic(err)
		}
		defer ch.Close()
		bars, err = ch.LoadBars(ctx, *symbol, cfg.Hierarchy[0], startMs, endMs)
		if err != nil {
			panic(err)
		}
		logger.Info("loaded bars from ClickHouse", zap.String("symbol", *symbol), zap.Int("bars", len(bars)))
	}

	manifest := backtest.NewManifest(cfg, bars, *symbol)
	result, err := backtest.Run(context.Background(), cfg, bars, *symbol, logger)
	if err != nil {
		panic(err)
	}

	m := result.Metrics
	fmt.Println("=== Reclaim Backtest Summary ===")
	fmt.Printf("Job: %s\n", manifest.JobID)
	fmt.Printf("Bars: %d, Hierarchy: %v\n", len(bars), cfg.Hierarchy)
	fmt.Printf("Trades: %d, WinRate: %.2f%%, ProfitFactor: %.3f\n",
		m.TotalTrades, m.WinRate*100, m.ProfitFactor)
	fmt.Printf("NetPnL: $%.2f, MaxDD: %.2f%%, Sharpe: %.3f, AvgR: %.3f\n",
		m.NetProfit, m.MaxDrawdownPct*100, m.SharpeRatio, m.AvgRMultiple)
	for tf, g := range m.ByTimeframe {
		fmt.Printf("  %s: trades=%d win=%.2f%% pnl=$%.2f avgR=%.3f\n",
			tf, g.Trades, g.WinRate*100, g.Profit, g.AvgR)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		panic(err)
	}
	if err := backtest.ExportTradesCSV(filepath.Join(*outDir, "trades.csv"), result.Trades); err != nil {
		panic(err)
	}
	if err := backtest.ExportEquityCSV(filepath.Join(*outDir, "equity.csv"), result.Equity); err != nil {
		panic(err)
	}
	if err := backtest.WriteManifest(filepath.Join(*outDir, "manifest.json"), manifest); err != nil {
		panic(err)
	}
	logger.Info("run artifacts written", zap.String("dir", *outDir))

	if *arrowOut != "" {
		pipe := arrowpipeline.NewPipeline(logger)
		payload, err := pipe.ConvertEquity(result.Equity)
		if err != nil {
			panic(err)
		}
		f, err := os.Create(*arrowOut)
		if err != nil {
			panic(err)
		}
		defer f.Close()
		if err := arrowpipeline.WriteTo(f, payload); err != nil {
			panic(err)
		}
		logger.Info("arrow payload written", zap.String("path", *arrowOut), zap.Int("bytes", len(payload)))
	}
}

func parseUTC(s string) (int64, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("bad time %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}
