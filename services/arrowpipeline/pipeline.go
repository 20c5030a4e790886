// Package arrowpipeline serializes run inputs and outputs to Arrow IPC so
// external analysis tools can consume them without parsing CSV.
package arrowpipeline

import (
	"bytes"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"reclaim-backtest/services/engine"
	"reclaim-backtest/services/timeframe"
)

// Pipeline owns the allocator shared by all conversions.
type Pipeline struct {
	pool memory.Allocator
	log  *zap.Logger
}

func NewPipeline(log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{pool: memory.NewGoAllocator(), log: log}
}

var barSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// ConvertBars serializes one symbol's bars as a single IPC stream.
func (p *Pipeline) ConvertBars(symbol string, bars []timeframe.Bar) ([]byte, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars to convert")
	}

	symbols := make([]string, len(bars))
	timestamps := make([]int64, len(bars))
	opens := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, bar := range bars {
		symbols[i] = symbol
		timestamps[i] = bar.Timestamp
		opens[i] = bar.Open.InexactFloat64()
		highs[i] = bar.High.InexactFloat64()
		lows[i] = bar.Low.InexactFloat64()
		closes[i] = bar.Close.InexactFloat64()
		volumes[i] = bar.Volume.InexactFloat64()
	}

	symbolBuilder := array.NewStringBuilder(p.pool)
	symbolBuilder.AppendValues(symbols, nil)
	symbolArray := symbolBuilder.NewStringArray()

	timestampBuilder := array.NewInt64Builder(p.pool)
	timestampBuilder.AppendValues(timestamps, nil)
	timestampArray := timestampBuilder.NewInt64Array()

	cols := make([]arrow.Array, 0, 7)
	cols = append(cols, symbolArray, timestampArray)
	for _, values := range [][]float64{opens, highs, lows, closes, volumes} {
		b := array.NewFloat64Builder(p.pool)
		b.AppendValues(values, nil)
		cols = append(cols, b.NewFloat64Array())
	}

	record := array.NewRecord(barSchema, cols, int64(len(bars)))
	defer record.Release()
	return p.writeIPC(barSchema, record)
}

var equitySchema = arrow.NewSchema([]arrow.Field{
	{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
	{Name: "balance", Type: arrow.PrimitiveTypes.Float64},
	{Name: "equity", Type: arrow.PrimitiveTypes.Float64},
	{Name: "drawdown", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// ConvertEquity serializes an equity curve as a single IPC stream.
func (p *Pipeline) ConvertEquity(points []engine.EquityPoint) ([]byte, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("no equity points to convert")
	}

	timestamps := make([]int64, len(points))
	balances := make([]float64, len(points))
	equities := make([]float64, len(points))
	drawdowns := make([]float64, len(points))
	for i, pt := range points {
		timestamps[i] = pt.Timestamp
		balances[i] = pt.Balance
		equities[i] = pt.Equity
		drawdowns[i] = pt.Drawdown
	}

	tsBuilder := array.NewInt64Builder(p.pool)
	tsBuilder.AppendValues(timestamps, nil)
	cols := []arrow.Array{tsBuilder.NewInt64Array()}
	for _, values := range [][]float64{balances, equities, drawdowns} {
		b := array.NewFloat64Builder(p.pool)
		b.AppendValues(values, nil)
		cols = append(cols, b.NewFloat64Array())
	}

	record := array.NewRecord(equitySchema, cols, int64(len(points)))
	defer record.Release()
	return p.writeIPC(equitySchema, record)
}

func (p *Pipeline) writeIPC(schema *arrow.Schema, record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write Arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	p.log.Debug("arrow record written", zap.Int64("rows", record.NumRows()))
	return buf.Bytes(), nil
}

// WriteTo streams an already serialized IPC payload to a writer.
func WriteTo(w io.Writer, payload []byte) error {
	_, err := w.Write(payload)
	return err
}
