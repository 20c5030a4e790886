package timeframe

import (
	"fmt"
)

// Store holds one Series per timeframe label plus precomputed alignment
// tables from the reference (smallest) timeframe to every other timeframe.
// A coarser bar becomes visible only once it has fully closed relative to
// the close of the reference bar being evaluated.
type Store struct {
	hierarchy []string
	series    map[string]*Series

	// alignment[label][refIdx] is the index of the newest fully closed bar
	// of that timeframe at the close of reference bar refIdx, or -1.
	alignment map[string][]int
}

// NewStore creates an empty store for the given hierarchy (smallest to
// largest).
func NewStore(hierarchy []string) (*Store, error) {
	if len(hierarchy) == 0 {
		return nil, fmt.Errorf("timeframe hierarchy is empty")
	}
	var prev int64
	for _, label := range hierarchy {
		dur, err := ParseDuration(label)
		if err != nil {
			return nil, err
		}
		if dur <= prev {
			return nil, fmt.Errorf("hierarchy not strictly ascending at %q", label)
		}
		prev = dur
	}
	return &Store{
		hierarchy: append([]string(nil), hierarchy...),
		series:    make(map[string]*Series),
		alignment: make(map[string][]int),
	}, nil
}

// Add registers a series under its label. The label must belong to the
// hierarchy. Adding invalidates any previously built alignment tables.
func (st *Store) Add(s *Series) error {
	if st.indexOf(s.Label) < 0 {
		return fmt.Errorf("timeframe %q is not in the hierarchy", s.Label)
	}
	st.series[s.Label] = s
	st.alignment = make(map[string][]int)
	return nil
}

// Get returns the series for a label.
func (st *Store) Get(label string) (*Series, bool) {
	s, ok := st.series[label]
	return s, ok
}

// Hierarchy returns the configured labels, smallest to largest.
func (st *Store) Hierarchy() []string { return st.hierarchy }

// Reference returns the smallest timeframe's series, which drives the
// simulation loop.
func (st *Store) Reference() (*Series, error) {
	s, ok := st.series[st.hierarchy[0]]
	if !ok {
		return nil, fmt.Errorf("reference timeframe %q has no data", st.hierarchy[0])
	}
	return s, nil
}

// NextHigher returns the label one step up the hierarchy, or false at the
// top.
func (st *Store) NextHigher(label string) (string, bool) {
	i := st.indexOf(label)
	if i < 0 || i+1 >= len(st.hierarchy) {
		return "", false
	}
	return st.hierarchy[i+1], true
}

// Rank returns the position of a label in the hierarchy (0 = smallest), or
// -1 when unknown.
func (st *Store) Rank(label string) int { return st.indexOf(label) }

func (st *Store) indexOf(label string) int {
	for i, l := range st.hierarchy {
		if l == label {
			return i
		}
	}
	return -1
}

// BuildAlignment precomputes, for every non-reference timeframe, the mapping
// from reference bar index to that timeframe's newest closed bar index. The
// tables are monotonic non-decreasing by construction.
func (st *Store) BuildAlignment() error {
	ref, err := st.Reference()
	if err != nil {
		return err
	}
	for _, label := range st.hierarchy[1:] {
		s, ok := st.series[label]
		if !ok {
			continue // missing timeframes are simply never aligned
		}
		table := make([]int, ref.Len())
		j := -1
		for i := 0; i < ref.Len(); i++ {
			evalTime := ref.Bars[i].Timestamp + ref.DurationMs
			for j+1 < s.Len() && s.Bars[j+1].Timestamp+s.DurationMs <= evalTime {
				j++
			}
			table[i] = j
		}
		st.alignment[label] = table
	}
	return nil
}

// AlignedIndex maps a reference bar index to the given timeframe's newest
// closed bar index. Returns false when no bar of that timeframe has closed
// yet, or the timeframe has no data.
func (st *Store) AlignedIndex(refIdx int, label string) (int, bool) {
	if label == st.hierarchy[0] {
		return refIdx, true
	}
	table, ok := st.alignment[label]
	if !ok || refIdx < 0 || refIdx >= len(table) {
		return 0, false
	}
	if table[refIdx] < 0 {
		return 0, false
	}
	return table[refIdx], true
}
