// Downloads Binance monthly kline archives and loads them into the
// ClickHouse klines table. Re-running a month is safe; the table replaces
// duplicates by version.
package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	chstore "reclaim-backtest/services/clickhouse"
	"reclaim-backtest/services/timeframe"
)

var errMonthMissing = errors.New("month archive not published")

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "Trading pair symbol")
	interval := flag.String("interval", "5m", "Kline interval (e.g., 1m, 5m)")
	from := flag.String("from", "2024-09", "Start month inclusive (YYYY-MM)")
	to := flag.String("to", "2025-09", "End month inclusive (YYYY-MM)")
	baseURL := flag.String("base-url", "https://data.binance.vision", "Binance archive base URL")
	chAddr := flag.String("ch-addr", "localhost:19000", "ClickHouse native address")
	db := flag.String("db", "backtest", "ClickHouse database")
	table := flag.String("table", "data", "ClickHouse table")
	user := flag.String("ch-user", "backtest", "ClickHouse user")
	pass := flag.String("ch-pass", "backtest123", "ClickHouse password")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	start, err := time.Parse("2006-01", *from)
	if err != nil {
		panic(fmt.Errorf("bad -from: %w", err))
	}
	end, err := time.Parse("2006-01", *to)
	if err != nil {
		panic(fmt.Errorf("bad -to: %w", err))
	}
	if end.Before(start) {
		panic("-to is before -from")
	}

	ctx := context.Background()
	client, err := chstore.NewClient(ctx, chstore.Options{
		Addr:     *chAddr,
		Database: *db,
		Username: *user,
		Password: *pass,
		Table:    *table,
	})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	if err := client.EnsureSchema(ctx); err != nil {
		panic(err)
	}

	httpClient := &http.Client{Timeout: 120 * time.Second}
	total := 0
	for month := start; !month.After(end); month = month.AddDate(0, 1, 0) {
		url := monthlyZipURL(*baseURL, *symbol, *interval, month)
		bars, err := downloadMonth(httpClient, url)
		if errors.Is(err, errMonthMissing) {
			logger.Warn("month not published, skipping",
				zap.String("month", month.Format("2006-01")))
			continue
		}
		if err != nil {
			panic(fmt.Errorf("month %s: %w", month.Format("2006-01"), err))
		}

		rows, err := client.InsertBars(ctx, *symbol, *interval, bars)
		if err != nil {
			panic(fmt.Errorf("insert %s: %w", month.Format("2006-01"), err))
		}
		total += rows
		logger.Info("month ingested",
			zap.String("month", month.Format("2006-01")),
			zap.Int("rows", rows))
	}
	logger.Info("ingest complete",
		zap.String("symbol", *symbol),
		zap.String("interval", *interval),
		zap.Int("rows", total))
}

func monthlyZipURL(base, symbol, interval string, month time.Time) string {
	return fmt.Sprintf("%s/data/spot/monthly/klines/%s/%s/%s-%s-%04d-%02d.zip",
		strings.TrimRight(base, "/"), symbol, interval, symbol, interval,
		month.Year(), int(month.Month()))
}

// downloadMonth fetches one archive and parses its kline CSV into bars.
// Binance columns: open time ms, open, high, low, close, volume, close time
// ms, quote volume, trades, taker base, taker quote, ignore.
func downloadMonth(client *http.Client, url string) ([]timeframe.Bar, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, errMonthMissing
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("zip open: %w", err)
	}
	var csvFile *zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			csvFile = f
			break
		}
	}
	if csvFile == nil {
		return nil, errors.New("no csv in zip")
	}
	rc, err := csvFile.Open()
	if err != nil {
		return nil, fmt.Errorf("zip entry open: %w", err)
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1

	var bars []timeframe.Bar
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv read: %w", err)
		}
		if len(rec) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			continue
		}
		bar, err := parseBar(ts, rec)
		if err != nil {
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseBar(ts int64, rec []string) (timeframe.Bar, error) {
	var bar timeframe.Bar
	var err error
	bar.Timestamp = ts
	if bar.Open, err = decimal.NewFromString(rec[1]); err != nil {
		return bar, err
	}
	if bar.High, err = decimal.NewFromString(rec[2]); err != nil {
		return bar, err
	}
	if bar.Low, err = decimal.NewFromString(rec[3]); err != nil {
		return bar, err
	}
	if bar.Close, err = decimal.NewFromString(rec[4]); err != nil {
		return bar, err
	}
	if bar.Volume, err = decimal.NewFromString(rec[5]); err != nil {
		return bar, err
	}
	return bar, nil
}
