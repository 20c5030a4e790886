// Package optimize sweeps parameter grids over the simulation pipeline and
// ranks the outcomes.
package optimize

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"reclaim-backtest/services/config"
	"reclaim-backtest/services/engine"
)

// ParameterSet maps parameter name to the value used for one run.
type ParameterSet map[string]float64

// RunResult pairs one combination with its metrics. Failed combinations
// carry a reason and are excluded from ranking.
type RunResult struct {
	Index   int // combination order, the ranking tiebreak
	Params  ParameterSet
	Metrics engine.Metrics
	Score   float64
	Failed  bool
	Reason  string
}

// Runner executes one full, independent pipeline run for a configuration.
// Implementations must not share mutable state between invocations.
type Runner func(cfg *config.Config) (engine.Metrics, error)

// Optimizer builds the Cartesian product of a parameter grid and runs the
// pipeline once per combination.
type Optimizer struct {
	base    *config.Config
	grid    map[string][]float64
	names   []string // sorted for a stable combination order
	metric  string
	runner  Runner
	workers int
	log     *zap.Logger
}

func New(base *config.Config, grid map[string][]float64, metric string, runner Runner, log *zap.Logger) (*Optimizer, error) {
	if len(grid) == 0 {
		return nil, fmt.Errorf("parameter grid is empty")
	}
	names := make([]string, 0, len(grid))
	for name, values := range grid {
		if len(values) == 0 {
			return nil, fmt.Errorf("parameter %q has no values", name)
		}
		if err := applyParam(base.Clone(), name, values[0]); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if _, err := scoreOf(engine.Metrics{}, metric); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	workers := base.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	return &Optimizer{
		base:    base,
		grid:    grid,
		names:   names,
		metric:  metric,
		runner:  runner,
		workers: workers,
		log:     log,
	}, nil
}

// Combinations enumerates the full Cartesian product in deterministic
// order: parameter names sorted, values in their given order, last name
// cycling fastest.
func (o *Optimizer) Combinations() []ParameterSet {
	total := 1
	for _, name := range o.names {
		total *= len(o.grid[name])
	}
	out := make([]ParameterSet, 0, total)
	idx := make([]int, len(o.names))
	for {
		set := make(ParameterSet, len(o.names))
		for i, name := range o.names {
			set[name] = o.grid[name][idx[i]]
		}
		out = append(out, set)

		p := len(idx) - 1
		for p >= 0 {
			idx[p]++
			if idx[p] < len(o.grid[o.names[p]]) {
				break
			}
			idx[p] = 0
			p--
		}
		if p < 0 {
			return out
		}
	}
}

// RunSequential executes every combination on the calling goroutine.
func (o *Optimizer) RunSequential() []RunResult {
	combos := o.Combinations()
	results := make([]RunResult, len(combos))
	for i, params := range combos {
		results[i] = o.runOne(i, params)
	}
	o.rank(results)
	return results
}

// RunParallel fans the combinations out over a worker pool. Each worker
// clones the base configuration per run and shares nothing mutable; results
// come back over a channel and are re-ranked deterministically, so the
// outcome matches RunSequential.
func (o *Optimizer) RunParallel() []RunResult {
	combos := o.Combinations()
	results := make([]RunResult, len(combos))

	jobChan := make(chan int, len(combos))
	resultChan := make(chan RunResult, len(combos))
	var wg sync.WaitGroup

	workers := o.workers
	if workers > len(combos) {
		workers = len(combos)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobChan {
				resultChan <- o.runOne(i, combos[i])
			}
		}()
	}
	for i := range combos {
		jobChan <- i
	}
	close(jobChan)
	wg.Wait()
	close(resultChan)

	for r := range resultChan {
		results[r.Index] = r
	}
	o.rank(results)
	return results
}

// runOne executes a single combination with full failure isolation: a
// panicking run becomes a failed result instead of aborting the sweep.
func (o *Optimizer) runOne(index int, params ParameterSet) (res RunResult) {
	res = RunResult{Index: index, Params: params}
	defer func() {
		if r := recover(); r != nil {
			res.Failed = true
			res.Reason = fmt.Sprintf("panic: %v", r)
			o.log.Warn("combination panicked", zap.Int("index", index), zap.Any("cause", r))
		}
	}()

	cfg := o.base.Clone()
	for _, name := range o.names {
		if err := applyParam(cfg, name, params[name]); err != nil {
			res.Failed = true
			res.Reason = err.Error()
			return res
		}
	}
	metrics, err := o.runner(cfg)
	if err != nil {
		res.Failed = true
		res.Reason = err.Error()
		o.log.Warn("combination failed", zap.Int("index", index), zap.Error(err))
		return res
	}
	res.Metrics = metrics
	res.Score, _ = scoreOf(metrics, o.metric)
	return res
}

// rank sorts descending by score with combination order breaking ties.
// Failed results sink to the bottom regardless of score.
func (o *Optimizer) rank(results []RunResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Failed != b.Failed {
			return !a.Failed
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Index < b.Index
	})
}

// TopN returns the best n ranked, non-failed results.
func TopN(results []RunResult, n int) []RunResult {
	out := make([]RunResult, 0, n)
	for _, r := range results {
		if r.Failed {
			continue
		}
		out = append(out, r)
		if len(out) == n {
			break
		}
	}
	return out
}

// Importance scores each parameter by the spread of its per-value mean
// score, normalized so the widest-spread parameter maps to 1.0.
func Importance(results []RunResult, names []string) map[string]float64 {
	spreads := make(map[string]float64, len(names))
	maxSpread := 0.0
	for _, name := range names {
		byValue := make(map[float64][]float64)
		for _, r := range results {
			if r.Failed {
				continue
			}
			if v, ok := r.Params[name]; ok {
				byValue[v] = append(byValue[v], r.Score)
			}
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, scores := range byValue {
			var mean float64
			for _, s := range scores {
				mean += s
			}
			mean /= float64(len(scores))
			if mean < lo {
				lo = mean
			}
			if mean > hi {
				hi = mean
			}
		}
		spread := 0.0
		if len(byValue) > 1 {
			spread = hi - lo
		}
		spreads[name] = spread
		if spread > maxSpread {
			maxSpread = spread
		}
	}
	out := make(map[string]float64, len(names))
	for name, spread := range spreads {
		if maxSpread > 0 {
			out[name] = spread / maxSpread
		} else {
			out[name] = 0
		}
	}
	return out
}

// applyParam maps a named parameter onto the configuration. The set of
// names is closed; unknown names fail the combination.
func applyParam(cfg *config.Config, name string, value float64) error {
	switch name {
	case "risk_percent":
		cfg.RiskPercent = value
	case "target_rr":
		cfg.TargetRewardRisk = value
	case "trail_activation_r":
		cfg.TrailingActivation = value
	case "trail_step_pct":
		cfg.TrailingStep = value
	case "fib_low":
		cfg.FibLow = value
	case "fib_high":
		cfg.FibHigh = value
	case "ma_period":
		cfg.MAPeriod = int(value)
	case "atr_period":
		cfg.ATRPeriod = int(value)
	case "pullback_lookback":
		cfg.PullbackLookback = int(value)
	case "pullback_scan_bars":
		cfg.PullbackScanBars = int(value)
	case "stop_buffer_pct":
		cfg.StopBufferPct = value
	case "fallback_stop_pct":
		cfg.FallbackStopPct = value
	case "extension_threshold":
		for tf := range cfg.ExtensionThresholds {
			cfg.ExtensionThresholds[tf] = value
		}
	default:
		return fmt.Errorf("unknown parameter %q", name)
	}
	return nil
}

// scoreOf extracts the target metric. The metric set is closed.
func scoreOf(m engine.Metrics, metric string) (float64, error) {
	switch metric {
	case "net_profit":
		return m.NetProfit, nil
	case "profit_factor":
		return m.ProfitFactor, nil
	case "win_rate":
		return m.WinRate, nil
	case "sharpe":
		return m.SharpeRatio, nil
	case "avg_r":
		return m.AvgRMultiple, nil
	default:
		return 0, fmt.Errorf("unknown target metric %q", metric)
	}
}
