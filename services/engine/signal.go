// Package engine drives the bar-by-bar simulation: it turns signals into
// positions, positions into trades, and trades plus equity into metrics.
package engine

// Direction of a trade or position.
type Direction int

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	if d == Long {
		return "long"
	}
	return "short"
}

// Signal is a candidate trade emitted for one bar. It is consumed (or
// rejected) by the engine on the bar it was produced for; nothing retains it
// afterwards.
type Signal struct {
	Timeframe    string
	Direction    Direction
	RefIndex     int
	Timestamp    int64
	Entry        float64
	Stop         float64
	Confidence   float64 // 0..1
	ExtensionATR float64 // originating extension magnitude
	RiskFactor   float64 // cross-timeframe risk scaling, 0..1
	ConflictKind string  // worst conflict kind behind RiskFactor
}

// SignalSource produces the signals for one reference bar, ordered by
// timeframe rank. Implementations must be deterministic for identical input
// bars and parameters.
type SignalSource interface {
	Signals(refIdx int) []Signal
}
