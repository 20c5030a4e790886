// Package clickhouse loads OHLCV bars from a ClickHouse klines table.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"reclaim-backtest/services/timeframe"
)

// Options is the connection configuration.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Client wraps one ClickHouse connection.
type Client struct {
	conn  driver.Conn
	table string
	db    string
}

// NewClient opens and pings the connection.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &Client{conn: conn, table: opts.Table, db: opts.Database}, nil
}

// LoadBars reads one symbol/interval slice ordered by open time. Time bounds
// are unix milliseconds; a zero end means no upper bound.
func (c *Client) LoadBars(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]timeframe.Bar, error) {
	q := fmt.Sprintf(`
        SELECT
            open_time_ms,
            toString(open), toString(high), toString(low), toString(close), toString(volume)
        FROM %s.%s
        WHERE symbol = ? AND interval = ?
          AND open_time_ms >= ?
          AND (? = 0 OR open_time_ms < ?)
        ORDER BY open_time_ms
    `, c.db, c.table)

	rows, err := c.conn.Query(ctx, q, symbol, interval, uint64(startMs), uint64(endMs), uint64(endMs))
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []timeframe.Bar
	for rows.Next() {
		var ts uint64
		var o, h, l, cl, vol string
		if err := rows.Scan(&ts, &o, &h, &l, &cl, &vol); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		od, e1 := decimal.NewFromString(o)
		hd, e2 := decimal.NewFromString(h)
		ld, e3 := decimal.NewFromString(l)
		cd, e4 := decimal.NewFromString(cl)
		vd, e5 := decimal.NewFromString(vol)
		if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil {
			continue // malformed row, skip like the CSV path does
		}
		bars = append(bars, timeframe.Bar{
			Timestamp: int64(ts),
			Open:      od,
			High:      hd,
			Low:       ld,
			Close:     cd,
			Volume:    vd,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s %s", symbol, interval)
	}
	return bars, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }
