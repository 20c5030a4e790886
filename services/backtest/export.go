package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"reclaim-backtest/services/engine"
)

// ExportTradesCSV writes the trade list in the flat column layout the
// analysis notebooks expect, one row per closed trade.
func ExportTradesCSV(filename string, trades []engine.Trade) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"id", "symbol", "direction", "timeframe",
		"entry_time_utc", "exit_time_utc", "duration_ms",
		"entry_price", "exit_price", "size",
		"profit", "r_multiple", "risk_reward",
		"exit_reason", "confidence", "conflict",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, t := range trades {
		row := []string{
			t.ID,
			t.Symbol,
			t.Direction.String(),
			t.Timeframe,
			msToUTC(t.EntryTime),
			msToUTC(t.ExitTime),
			strconv.FormatInt(t.DurationMs, 10),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.Size, 'f', -1, 64),
			strconv.FormatFloat(t.Profit, 'f', -1, 64),
			strconv.FormatFloat(t.RMultiple, 'f', 4, 64),
			strconv.FormatFloat(t.RiskReward, 'f', 4, 64),
			t.ExitReason,
			strconv.FormatFloat(t.Confidence, 'f', 4, 64),
			t.ConflictKind,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write trade %s: %w", t.ID, err)
		}
	}
	return nil
}

// ExportEquityCSV writes the equity curve with timestamps, balance and
// running drawdown.
func ExportEquityCSV(filename string, equity []engine.EquityPoint) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"time_utc", "equity", "drawdown"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, p := range equity {
		row := []string{
			msToUTC(p.Timestamp),
			strconv.FormatFloat(p.Equity, 'f', 2, 64),
			strconv.FormatFloat(p.Drawdown, 'f', 2, 64),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write equity row: %w", err)
		}
	}
	return nil
}

// WriteManifest saves the run manifest as indented JSON next to the other
// run artifacts.
func WriteManifest(filename string, m RunManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func msToUTC(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}
