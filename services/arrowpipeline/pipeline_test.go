package arrowpipeline

import (
	"bytes"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/shopspring/decimal"

	"reclaim-backtest/services/engine"
	"reclaim-backtest/services/timeframe"
)

func TestConvertBarsRoundTrip(t *testing.T) {
	p := NewPipeline(nil)
	bars := []timeframe.Bar{
		{Timestamp: 0, Open: decimal.NewFromFloat(100), High: decimal.NewFromFloat(101),
			Low: decimal.NewFromFloat(99), Close: decimal.NewFromFloat(100.5), Volume: decimal.NewFromFloat(3)},
		{Timestamp: 300_000, Open: decimal.NewFromFloat(100.5), High: decimal.NewFromFloat(102),
			Low: decimal.NewFromFloat(100), Close: decimal.NewFromFloat(101), Volume: decimal.NewFromFloat(4)},
	}
	payload, err := p.ConvertBars("BTCUSDT", bars)
	if err != nil {
		t.Fatal(err)
	}

	r, err := ipc.NewReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()
	if !r.Next() {
		t.Fatal("no record in stream")
	}
	rec := r.Record()
	if rec.NumRows() != 2 {
		t.Fatalf("rows = %d, want 2", rec.NumRows())
	}
	if rec.NumCols() != 7 {
		t.Fatalf("cols = %d, want 7", rec.NumCols())
	}
	if got := rec.Schema().Field(0).Name; got != "symbol" {
		t.Fatalf("first field = %s, want symbol", got)
	}
}

func TestConvertEquityRejectsEmpty(t *testing.T) {
	p := NewPipeline(nil)
	if _, err := p.ConvertEquity(nil); err == nil {
		t.Fatal("expected error for empty equity curve")
	}
}

func TestConvertEquityRoundTrip(t *testing.T) {
	p := NewPipeline(nil)
	points := []engine.EquityPoint{
		{Timestamp: 0, Balance: 100000, Equity: 100000},
		{Timestamp: 300_000, Balance: 100000, Equity: 100500, Drawdown: 0},
	}
	payload, err := p.ConvertEquity(points)
	if err != nil {
		t.Fatal(err)
	}
	r, err := ipc.NewReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()
	if !r.Next() {
		t.Fatal("no record in stream")
	}
	if r.Record().NumRows() != 2 {
		t.Fatalf("rows = %d, want 2", r.Record().NumRows())
	}
}
