package engine

import (
	"math"
)

// GroupStats is a per-group slice of the trade statistics used by the
// breakdown maps.
type GroupStats struct {
	Trades  int
	Wins    int
	WinRate float64
	Profit  float64
	AvgR    float64
}

// Metrics is the flat statistics record derived from one run.
type Metrics struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64

	GrossProfit  float64
	GrossLoss    float64
	NetProfit    float64
	ProfitFactor float64 // +Inf when there are no losses

	MaxDrawdown    float64
	MaxDrawdownPct float64
	SharpeRatio    float64

	LongestWinStreak  int
	LongestLossStreak int

	AvgRMultiple float64

	ByTimeframe map[string]GroupStats
	ByConflict  map[string]GroupStats
	ByExit      map[string]GroupStats
}

// Analyze derives summary statistics from the trade list and equity curve.
// It is a pure function: no engine state is read or touched.
func Analyze(trades []Trade, equity []EquityPoint) Metrics {
	m := Metrics{
		ByTimeframe: make(map[string]GroupStats),
		ByConflict:  make(map[string]GroupStats),
		ByExit:      make(map[string]GroupStats),
	}

	var winStreak, lossStreak int
	var sumR float64
	for _, t := range trades {
		m.TotalTrades++
		sumR += t.RMultiple
		if t.Profit > 0 {
			m.WinningTrades++
			m.GrossProfit += t.Profit
			winStreak++
			lossStreak = 0
		} else if t.Profit < 0 {
			m.LosingTrades++
			m.GrossLoss += -t.Profit
			lossStreak++
			winStreak = 0
		} else {
			winStreak = 0
			lossStreak = 0
		}
		if winStreak > m.LongestWinStreak {
			m.LongestWinStreak = winStreak
		}
		if lossStreak > m.LongestLossStreak {
			m.LongestLossStreak = lossStreak
		}

		addGroup(m.ByTimeframe, t.Timeframe, t)
		if t.ConflictKind != "" {
			addGroup(m.ByConflict, t.ConflictKind, t)
		}
		addGroup(m.ByExit, t.ExitReason, t)
	}

	m.NetProfit = m.GrossProfit - m.GrossLoss
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
		m.AvgRMultiple = sumR / float64(m.TotalTrades)
	}
	if m.GrossLoss > 0 {
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	} else if m.GrossProfit > 0 {
		m.ProfitFactor = math.Inf(1)
	}

	m.MaxDrawdown, m.MaxDrawdownPct = maxDrawdown(equity)
	m.SharpeRatio = sharpe(equity)

	finishGroups(m.ByTimeframe)
	finishGroups(m.ByConflict)
	finishGroups(m.ByExit)
	return m
}

func addGroup(groups map[string]GroupStats, key string, t Trade) {
	g := groups[key]
	g.Trades++
	if t.Profit > 0 {
		g.Wins++
	}
	g.Profit += t.Profit
	g.AvgR += t.RMultiple // running sum until finishGroups
	groups[key] = g
}

func finishGroups(groups map[string]GroupStats) {
	for key, g := range groups {
		if g.Trades > 0 {
			g.WinRate = float64(g.Wins) / float64(g.Trades)
			g.AvgR /= float64(g.Trades)
		}
		groups[key] = g
	}
}

// maxDrawdown walks the equity curve with a running peak and returns the
// deepest absolute and percentage drops.
func maxDrawdown(equity []EquityPoint) (float64, float64) {
	var peak, dd, ddPct float64
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		drop := peak - p.Equity
		if drop > dd {
			dd = drop
		}
		if peak > 0 {
			if pct := drop / peak; pct > ddPct {
				ddPct = pct
			}
		}
	}
	return dd, ddPct
}

// sharpe computes mean over stdev of per-point equity returns, annualized
// by sqrt(252).
func sharpe(equity []EquityPoint) float64 {
	if len(equity) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (equity[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(252)
}
