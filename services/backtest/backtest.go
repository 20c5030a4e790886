// Package backtest wires the full simulation pipeline: reference bars in,
// derived timeframes, signal generation, execution and metrics out. The CLI
// tools and the HTTP server all go through this package so a run is assembled
// exactly one way.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reclaim-backtest/services/config"
	"reclaim-backtest/services/engine"
	"reclaim-backtest/services/optimize"
	"reclaim-backtest/services/target"
	"reclaim-backtest/services/timeframe"
	"reclaim-backtest/strategies"
)

// EngineVersion is stamped into every run manifest.
const EngineVersion = "1.0.0"

// Run executes one complete backtest over the given reference bars. Every
// call builds a fresh store, strategy and engine, so concurrent calls are
// independent.
func Run(ctx context.Context, cfg *config.Config, refBars []timeframe.Bar, symbol string, log *zap.Logger) (*engine.Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := timeframe.BuildStore(cfg.Hierarchy, refBars, cfg.MAKind, cfg.MAPeriod, cfg.ATRPeriod)
	if err != nil {
		return nil, fmt.Errorf("build timeframe store: %w", err)
	}

	strat := strategies.NewReclaimStrategy(cfg, store, log)
	targets := target.NewManager(store, cfg.TargetRewardRisk)
	eng := engine.New(cfg, store, strat, targets, nil, log, symbol)

	result, err := eng.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine run: %w", err)
	}
	return result, nil
}

// NewRunner adapts Run into the optimizer's per-configuration callback. The
// bar slice is shared read-only across workers; everything mutable is built
// inside the call.
func NewRunner(refBars []timeframe.Bar, symbol string, log *zap.Logger) optimize.Runner {
	return func(cfg *config.Config) (engine.Metrics, error) {
		result, err := Run(context.Background(), cfg, refBars, symbol, log)
		if err != nil {
			return engine.Metrics{}, err
		}
		return result.Metrics, nil
	}
}

// RunManifest records everything needed to reproduce a run.
type RunManifest struct {
	JobID         string            `json:"job_id"`
	Symbol        string            `json:"symbol"`
	CreatedAt     int64             `json:"created_at_ms"`
	EngineVersion string            `json:"engine_version"`
	Hierarchy     []string          `json:"hierarchy"`
	Bars          int               `json:"bars"`
	FirstBarTs    int64             `json:"first_bar_ts_ms"`
	LastBarTs     int64             `json:"last_bar_ts_ms"`
	Params        map[string]string `json:"params"`
}

// NewManifest snapshots the configuration and data window of a run.
func NewManifest(cfg *config.Config, refBars []timeframe.Bar, symbol string) RunManifest {
	m := RunManifest{
		JobID:         uuid.New().String(),
		Symbol:        symbol,
		CreatedAt:     time.Now().UnixMilli(),
		EngineVersion: EngineVersion,
		Hierarchy:     append([]string(nil), cfg.Hierarchy...),
		Bars:          len(refBars),
		Params: map[string]string{
			"initial_capital":    fmt.Sprintf("%g", cfg.InitialCapital),
			"commission_rate":    fmt.Sprintf("%g", cfg.CommissionRate),
			"slippage_rate":      fmt.Sprintf("%g", cfg.SlippageRate),
			"execution_delay":    fmt.Sprintf("%d", cfg.ExecutionDelay),
			"risk_percent":       fmt.Sprintf("%g", cfg.RiskPercent),
			"target_rr":          fmt.Sprintf("%g", cfg.TargetRewardRisk),
			"trail_activation_r": fmt.Sprintf("%g", cfg.TrailingActivation),
			"trail_step_pct":     fmt.Sprintf("%g", cfg.TrailingStep),
			"adaptive_threshold": fmt.Sprintf("%t", cfg.AdaptiveThreshold),
			"fib_low":            fmt.Sprintf("%g", cfg.FibLow),
			"fib_high":           fmt.Sprintf("%g", cfg.FibHigh),
			"pullback_lookback":  fmt.Sprintf("%d", cfg.PullbackLookback),
			"pullback_scan_bars": fmt.Sprintf("%d", cfg.PullbackScanBars),
			"color_confirm":      fmt.Sprintf("%t", cfg.RequireColorConfirm),
			"ma_kind":            cfg.MAKind.String(),
			"ma_period":          fmt.Sprintf("%d", cfg.MAPeriod),
			"atr_period":         fmt.Sprintf("%d", cfg.ATRPeriod),
		},
	}
	for tf, th := range cfg.ExtensionThresholds {
		m.Params["extension_threshold."+tf] = fmt.Sprintf("%g", th)
	}
	if len(refBars) > 0 {
		m.FirstBarTs = refBars[0].Timestamp
		m.LastBarTs = refBars[len(refBars)-1].Timestamp
	}
	return m
}
