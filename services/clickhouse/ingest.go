package clickhouse

import (
	"context"
	"fmt"
	"time"

	"reclaim-backtest/services/timeframe"
)

// EnsureSchema creates the database and klines table when missing. The table
// is a ReplacingMergeTree keyed on (symbol, interval, open_time_ms) so
// re-ingesting a month is idempotent.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if err := c.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", c.db)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			symbol String,
			interval LowCardinality(String),
			open_time_ms UInt64,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			ingested_at DateTime64(3),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (symbol, interval, open_time_ms)
		SETTINGS index_granularity = 8192
	`, c.db, c.table)
	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// InsertBars writes one symbol/interval slice in a single batch. All rows of
// a call share one version stamp; ReplacingMergeTree keeps the latest.
func (c *Client) InsertBars(ctx context.Context, symbol, interval string, bars []timeframe.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s.%s (symbol, interval, open_time_ms, open, high, low, close, volume, ingested_at, version)
		 SETTINGS insert_deduplicate=1`, c.db, c.table))
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}

	now := time.Now().UTC()
	ver := uint64(now.UnixNano())

	rows := 0
	for _, b := range bars {
		if err := batch.Append(
			symbol, interval,
			uint64(b.Timestamp),
			b.Open.InexactFloat64(),
			b.High.InexactFloat64(),
			b.Low.InexactFloat64(),
			b.Close.InexactFloat64(),
			b.Volume.InexactFloat64(),
			now,
			ver,
		); err != nil {
			return rows, fmt.Errorf("batch append: %w", err)
		}
		rows++
	}
	if err := batch.Send(); err != nil {
		return rows, fmt.Errorf("batch send: %w", err)
	}
	return rows, nil
}
