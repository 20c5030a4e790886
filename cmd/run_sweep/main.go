package main

import (
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"reclaim-backtest/services/backtest"
	"reclaim-backtest/services/config"
	"reclaim-backtest/services/optimize"
	"reclaim-backtest/services/timeframe"
)

func main() {
	csvPath := flag.String("csv", "", "Path to local CSV with reference bars")
	symbol := flag.String("symbol", "BTCUSDT", "Trading symbol")
	metric := flag.String("metric", "net_profit", "Ranking metric (net_profit, profit_factor, sharpe, win_rate, avg_r)")
	gridSpec := flag.String("grid", "risk_percent=0.005,0.01,0.02;target_rr=1.5,2,3", "Parameter grid: name=v1,v2;name2=...")
	top := flag.Int("top", 10, "How many ranked results to print")
	sequential := flag.Bool("sequential", false, "Run combinations one at a time")
	flag.Parse()

	if *csvPath == "" {
		panic("-csv is required")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	bars, err := timeframe.LoadCSV(*csvPath)
	if err != nil {
		panic(err)
	}
	logger.Info("loaded bars", zap.String("path", *csvPath), zap.Int("bars", len(bars)))

	grid, err := parseGrid(*gridSpec)
	if err != nil {
		panic(err)
	}

	opt, err := optimize.New(cfg, grid, *metric, backtest.NewRunner(bars, *symbol, logger), logger)
	if err != nil {
		panic(err)
	}

	var results []optimize.RunResult
	if *sequential {
		results = opt.RunSequential()
	} else {
		results = opt.RunParallel()
	}

	names := make([]string, 0, len(grid))
	for name := range grid {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("=== Parameter Sweep (%s) ===\n", *metric)
	fmt.Printf("Combinations: %d\n", len(results))
	for i, r := range optimize.TopN(results, *top) {
		fmt.Printf("%2d. score=%.4f params=%s\n", i+1, r.Score, formatParams(r.Params, names))
	}

	failed := 0
	for _, r := range results {
		if r.Failed {
			failed++
		}
	}
	if failed > 0 {
		fmt.Printf("Failed runs: %d\n", failed)
	}

	fmt.Println("Parameter importance:")
	importance := optimize.Importance(results, names)
	for _, name := range names {
		fmt.Printf("  %-24s %.4f\n", name, importance[name])
	}
}

// parseGrid turns "a=1,2;b=3,4" into the optimizer's grid map.
func parseGrid(spec string) (map[string][]float64, error) {
	grid := make(map[string][]float64)
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, list, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("bad grid entry %q, want name=v1,v2", part)
		}
		name = strings.TrimSpace(name)
		var values []float64
		for _, v := range strings.Split(list, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("bad value %q for %s: %w", v, name, err)
			}
			values = append(values, f)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("no values for %s", name)
		}
		grid[name] = values
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("empty grid spec")
	}
	return grid, nil
}

func formatParams(p optimize.ParameterSet, names []string) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%g", name, p[name]))
	}
	return strings.Join(parts, " ")
}
