// Package target assigns and advances profit targets along the timeframe
// hierarchy: each timeframe's moving average is the next target, and the top
// of the hierarchy ends the ladder.
package target

import (
	"reclaim-backtest/services/timeframe"
)

// Assignment is the outcome of asking for a target. When NoHigher is set the
// ladder is exhausted and Price holds the fixed reward-to-risk fallback (on
// initial assignment) or is meaningless (on advance, where the position
// closes instead).
type Assignment struct {
	Price    float64
	TargetTF string
	NoHigher bool
}

// Manager walks the hierarchy owned by a Store. It is stateless beyond its
// configuration; per-position target state lives on the position itself.
type Manager struct {
	store      *timeframe.Store
	rewardRisk float64
}

func NewManager(store *timeframe.Store, rewardRisk float64) *Manager {
	return &Manager{store: store, rewardRisk: rewardRisk}
}

// alignedMA returns the given timeframe's MA value at the bar aligned with
// reference index refIdx, or false when the lookup or warm-up fails.
func (m *Manager) alignedMA(label string, refIdx int) (float64, bool) {
	s, ok := m.store.Get(label)
	if !ok {
		return 0, false
	}
	j, ok := m.store.AlignedIndex(refIdx, label)
	if !ok || j >= len(s.MA) {
		return 0, false
	}
	ma := s.MA[j]
	if ma == 0 {
		return 0, false
	}
	return ma, true
}

// Initial assigns the first target for a position opened on ownTF at
// reference bar refIdx. If no higher timeframe exists, or its MA is not yet
// usable on the profitable side, the target falls back to the configured
// reward-to-risk multiple of the stop distance.
func (m *Manager) Initial(ownTF string, refIdx int, entry, stop float64, long bool) Assignment {
	next, ok := m.store.NextHigher(ownTF)
	for ok {
		ma, ready := m.alignedMA(next, refIdx)
		if ready && profitable(ma, entry, long) {
			return Assignment{Price: ma, TargetTF: next}
		}
		// MA unusable at this rung; try the one above before falling back.
		next, ok = m.store.NextHigher(next)
	}
	risk := entry - stop
	if !long {
		risk = stop - entry
	}
	if long {
		return Assignment{Price: entry + m.rewardRisk*risk, NoHigher: true}
	}
	return Assignment{Price: entry - m.rewardRisk*risk, NoHigher: true}
}

// Advance is called once price has reached the current target. It returns
// the next rung's target, or NoHigher when the ladder is exhausted and the
// position should close as final-target-achieved.
func (m *Manager) Advance(currentTF string, refIdx int, currentPrice float64, long bool) Assignment {
	if currentTF == "" {
		// Fallback-target positions have no rung to advance from.
		return Assignment{NoHigher: true}
	}
	next, ok := m.store.NextHigher(currentTF)
	for ok {
		ma, ready := m.alignedMA(next, refIdx)
		if ready && profitable(ma, currentPrice, long) {
			return Assignment{Price: ma, TargetTF: next}
		}
		next, ok = m.store.NextHigher(next)
	}
	return Assignment{NoHigher: true}
}

// profitable reports whether a candidate target sits on the winning side of
// the given price.
func profitable(target, price float64, long bool) bool {
	if long {
		return target > price
	}
	return target < price
}
