// Package config loads the backtest configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"reclaim-backtest/services/timeframe"
)

// Config holds every knob the simulation pipeline consumes. It is built once
// and passed by reference into the engine, signal generator and conflict
// resolver; nothing in the core reads the environment after Load.
type Config struct {
	// Account / execution
	InitialCapital    float64
	CommissionRate    float64 // fraction of notional per side, e.g. 0.001
	SlippageRate      float64 // fraction of price applied against the fill
	ExecutionDelay    int     // bars between signal and fill
	AllowFractional   bool    // fractional position sizes
	MaxOpenPositions  int
	SameDirectionOnly bool // reject signals opposing current exposure

	// Risk / targets
	RiskPercent        float64 // risk per trade as fraction of balance
	TargetRewardRisk   float64 // RR multiple when no higher timeframe exists
	TrailingActivation float64 // unrealized R-multiple that arms the trail
	TrailingStep       float64 // trail distance as fraction of the extreme

	// Detection
	ExtensionThresholds map[string]float64 // per-timeframe, in ATR units
	AdaptiveThreshold   bool
	FibLow              float64 // retracement band, e.g. 0.382
	FibHigh             float64 // e.g. 0.618
	PullbackLookback    int     // swing lookback ending at the reclamation bar
	PullbackScanBars    int     // bars scanned for the first valid pullback
	RequireColorConfirm bool    // three-bar color transition gate
	StopBufferPct       float64 // buffer beyond the swing extreme for stops
	FallbackStopPct     float64 // percent-of-price stop when swing lookup fails
	SlopeSpan           int     // bars for trend slope and momentum readings

	// Timeframes
	Hierarchy []string // smallest to largest
	MAKind    timeframe.MAKind
	MAPeriod  int
	ATRPeriod int

	// Optimizer
	MaxWorkers int

	// Server
	HTTPPort int
}

// Default returns the configuration used when no environment overrides are
// present. The detection constants mirror the strategy's tuned values and are
// deliberately configuration, not inferred.
func Default() *Config {
	return &Config{
		InitialCapital:    100000.0,
		CommissionRate:    0.001,
		SlippageRate:      0.0001,
		ExecutionDelay:    0,
		AllowFractional:   true,
		MaxOpenPositions:  3,
		SameDirectionOnly: false,

		RiskPercent:        0.01,
		TargetRewardRisk:   2.0,
		TrailingActivation: 1.5,
		TrailingStep:       0.02,

		ExtensionThresholds: map[string]float64{
			"1m":  1.2,
			"5m":  1.4,
			"15m": 1.5,
			"1h":  1.8,
			"4h":  2.0,
			"1d":  2.5,
		},
		AdaptiveThreshold:   true,
		FibLow:              0.382,
		FibHigh:             0.618,
		PullbackLookback:    10,
		PullbackScanBars:    5,
		RequireColorConfirm: false,
		StopBufferPct:       0.001,
		FallbackStopPct:     0.02,
		SlopeSpan:           5,

		Hierarchy: []string{"5m", "15m", "1h", "4h", "1d"},
		MAKind:    timeframe.MAExponential,
		MAPeriod:  20,
		ATRPeriod: 14,

		MaxWorkers: 4,
		HTTPPort:   8080,
	}
}

// Load builds a Config from environment variables layered over Default.
func Load() (*Config, error) {
	cfg := Default()

	cfg.InitialCapital = envFloat("INITIAL_CAPITAL", cfg.InitialCapital)
	cfg.CommissionRate = envFloat("COMMISSION_RATE", cfg.CommissionRate)
	cfg.SlippageRate = envFloat("SLIPPAGE_RATE", cfg.SlippageRate)
	cfg.ExecutionDelay = envInt("EXECUTION_DELAY_BARS", cfg.ExecutionDelay)
	cfg.AllowFractional = envBool("ALLOW_FRACTIONAL", cfg.AllowFractional)
	cfg.MaxOpenPositions = envInt("MAX_OPEN_POSITIONS", cfg.MaxOpenPositions)
	cfg.SameDirectionOnly = envBool("SAME_DIRECTION_ONLY", cfg.SameDirectionOnly)

	cfg.RiskPercent = envFloat("RISK_PERCENT", cfg.RiskPercent)
	cfg.TargetRewardRisk = envFloat("TARGET_RR", cfg.TargetRewardRisk)
	cfg.TrailingActivation = envFloat("TRAIL_ACTIVATION_R", cfg.TrailingActivation)
	cfg.TrailingStep = envFloat("TRAIL_STEP_PCT", cfg.TrailingStep)

	cfg.AdaptiveThreshold = envBool("ADAPTIVE_THRESHOLD", cfg.AdaptiveThreshold)
	cfg.FibLow = envFloat("FIB_LOW", cfg.FibLow)
	cfg.FibHigh = envFloat("FIB_HIGH", cfg.FibHigh)
	cfg.PullbackLookback = envInt("PULLBACK_LOOKBACK", cfg.PullbackLookback)
	cfg.PullbackScanBars = envInt("PULLBACK_SCAN_BARS", cfg.PullbackScanBars)
	cfg.RequireColorConfirm = envBool("REQUIRE_COLOR_CONFIRM", cfg.RequireColorConfirm)
	cfg.StopBufferPct = envFloat("STOP_BUFFER_PCT", cfg.StopBufferPct)
	cfg.FallbackStopPct = envFloat("FALLBACK_STOP_PCT", cfg.FallbackStopPct)
	cfg.SlopeSpan = envInt("SLOPE_SPAN", cfg.SlopeSpan)

	if v := strings.TrimSpace(os.Getenv("TIMEFRAMES")); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.Hierarchy = parts
	}
	switch strings.ToLower(mustEnv("MA_KIND", cfg.MAKind.String())) {
	case "sma":
		cfg.MAKind = timeframe.MASimple
	case "ema":
		cfg.MAKind = timeframe.MAExponential
	default:
		return nil, fmt.Errorf("unknown MA_KIND %q", os.Getenv("MA_KIND"))
	}
	cfg.MAPeriod = envInt("MA_PERIOD", cfg.MAPeriod)
	cfg.ATRPeriod = envInt("ATR_PERIOD", cfg.ATRPeriod)

	cfg.MaxWorkers = envInt("MAX_WORKERS", cfg.MaxWorkers)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %v", c.InitialCapital)
	}
	if c.RiskPercent <= 0 || c.RiskPercent > 1 {
		return fmt.Errorf("risk percent must be in (0,1], got %v", c.RiskPercent)
	}
	if c.FibLow <= 0 || c.FibHigh >= 1 || c.FibLow >= c.FibHigh {
		return fmt.Errorf("fib band [%v,%v] must satisfy 0 < low < high < 1", c.FibLow, c.FibHigh)
	}
	if len(c.Hierarchy) == 0 {
		return fmt.Errorf("timeframe hierarchy is empty")
	}
	if c.MAPeriod < 2 || c.ATRPeriod < 2 {
		return fmt.Errorf("indicator periods must be >= 2 (ma=%d atr=%d)", c.MAPeriod, c.ATRPeriod)
	}
	return nil
}

// Clone returns a deep copy so optimizer workers can mutate parameters
// without sharing state.
func (c *Config) Clone() *Config {
	cp := *c
	cp.ExtensionThresholds = make(map[string]float64, len(c.ExtensionThresholds))
	for k, v := range c.ExtensionThresholds {
		cp.ExtensionThresholds[k] = v
	}
	cp.Hierarchy = append([]string(nil), c.Hierarchy...)
	return &cp
}

func mustEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envInt(k string, def int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}
