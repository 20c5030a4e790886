// Package conflict classifies trend/extension disagreement between adjacent
// timeframes and converts it into a risk-scaling factor.
package conflict

import (
	"math"

	"go.uber.org/zap"
)

// Kind is the closed set of cross-timeframe relationships.
type Kind int

const (
	NoConflict Kind = iota
	DirectCorrection
	Consolidation
	TrapSetup
	Exhaustion
	Divergence
)

func (k Kind) String() string {
	switch k {
	case NoConflict:
		return "no_conflict"
	case DirectCorrection:
		return "direct_correction"
	case Consolidation:
		return "consolidation"
	case TrapSetup:
		return "trap_setup"
	case Exhaustion:
		return "exhaustion"
	case Divergence:
		return "divergence"
	default:
		return "unknown"
	}
}

// Severity grades a conflict by the angular gap between the two trends.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// TimeframeState is the per-timeframe snapshot the resolver consumes. Slopes
// and momentum are ATR-normalized so the arctangent angles are comparable
// across instruments.
type TimeframeState struct {
	Label string

	TrendSlope float64
	SlopeValid bool

	Extended           bool
	ExtensionDirection int // +1 up, -1 down, 0 none; fallback trend source

	Momentum      float64
	MomentumValid bool

	// Divergence inputs for the lower timeframe: price printed a new
	// extreme over the scan window while the extension indicator did not.
	PriceExtreme     bool
	IndicatorExtreme bool
}

// trendDir resolves the trend direction, falling back to the extension
// direction when the slope is unusable.
func (ts TimeframeState) trendDir() int {
	if ts.SlopeValid && ts.TrendSlope != 0 {
		if ts.TrendSlope > 0 {
			return 1
		}
		return -1
	}
	return ts.ExtensionDirection
}

// Resolution is one adjacent-pair verdict. RiskFactor is 1.0 exactly when
// Kind is NoConflict and strictly below 1.0 otherwise.
type Resolution struct {
	Lower      string
	Higher     string
	Kind       Kind
	Severity   Severity
	AngleDeg   float64
	RiskFactor float64
}

// Tuning constants. Strategy-specific; kept configurable rather than derived.
var severityFactor = map[Severity]float64{
	SeverityLow:    0.8,
	SeverityMedium: 0.5,
	SeverityHigh:   0.2,
}

var typeMultiplier = map[Kind]float64{
	DirectCorrection: 0.5,
	Consolidation:    0.8,
	TrapSetup:        0.3,
	Divergence:       0.7,
}

const (
	severityMediumDeg = 90.0
	severityHighDeg   = 135.0
	// Opposite-trend kinds with both or only the higher side extended
	// escalate earlier.
	severityHighSharpDeg = 120.0
)

// Resolver is a pure classifier; the logger is its only side channel.
type Resolver struct {
	log *zap.Logger
}

func NewResolver(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{log: log}
}

// angleBetween converts two normalized slopes to arctangent angles and
// returns their absolute difference in degrees, in [0, 180].
func angleBetween(a, b float64) float64 {
	deg := math.Abs(math.Atan(a)-math.Atan(b)) * 180.0 / math.Pi
	if deg > 180 {
		deg = 180
	}
	return deg
}

func severityFor(kind Kind, angle float64) Severity {
	high := severityHighDeg
	if kind == DirectCorrection || kind == TrapSetup {
		high = severityHighSharpDeg
	}
	switch {
	case angle > high:
		return SeverityHigh
	case angle >= severityMediumDeg:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ResolvePair classifies one adjacent (lower, higher) timeframe pair.
func (r *Resolver) ResolvePair(lower, higher TimeframeState) Resolution {
	res := Resolution{
		Lower:      lower.Label,
		Higher:     higher.Label,
		Kind:       NoConflict,
		RiskFactor: 1.0,
	}

	dl, dh := lower.trendDir(), higher.trendDir()
	if dl == 0 || dh == 0 {
		return res // not enough information, neutral
	}
	res.AngleDeg = angleBetween(lower.TrendSlope, higher.TrendSlope)

	switch {
	case dl != dh:
		switch {
		case lower.Extended && higher.Extended:
			res.Kind = DirectCorrection
		case lower.Extended:
			res.Kind = Consolidation
		case higher.Extended:
			res.Kind = TrapSetup
		default:
			res.Kind = Consolidation
		}
	case lower.MomentumValid && higher.MomentumValid &&
		lower.Momentum != 0 && higher.Momentum != 0 &&
		math.Signbit(lower.Momentum) != math.Signbit(higher.Momentum):
		res.Kind = Exhaustion
	case lower.PriceExtreme && !lower.IndicatorExtreme:
		res.Kind = Divergence
	default:
		return res
	}

	res.Severity = severityFor(res.Kind, res.AngleDeg)
	mult := typeMultiplier[res.Kind]
	if res.Kind == Exhaustion {
		mult = exhaustionMultiplier(lower.Momentum, higher.Momentum)
	}
	res.RiskFactor = 1.0 * severityFactor[res.Severity] * mult

	if res.RiskFactor < 0 {
		res.RiskFactor = 0
	}
	r.log.Debug("conflict detected",
		zap.String("lower", res.Lower),
		zap.String("higher", res.Higher),
		zap.String("kind", res.Kind.String()),
		zap.String("severity", res.Severity.String()),
		zap.Float64("angle_deg", res.AngleDeg),
		zap.Float64("risk_factor", res.RiskFactor),
	)
	return res
}

// exhaustionMultiplier scales with how evenly the opposing momentum readings
// are matched. A token counter-reading barely discounts (near 0.9); equal and
// opposite pull maps to 0.4. Always below 1 so an exhaustion verdict can
// never pass as conflict-free.
func exhaustionMultiplier(mLow, mHigh float64) float64 {
	lo, hi := math.Abs(mLow), math.Abs(mHigh)
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi == 0 {
		return 0.9
	}
	balance := lo / hi // in [0,1]
	return 0.9 - 0.5*balance
}

// Resolve walks every adjacent pair in hierarchy order and aggregates to the
// minimum risk factor, the most conservative verdict.
func (r *Resolver) Resolve(states []TimeframeState) ([]Resolution, float64) {
	minFactor := 1.0
	if len(states) < 2 {
		return nil, minFactor
	}
	out := make([]Resolution, 0, len(states)-1)
	for i := 0; i+1 < len(states); i++ {
		res := r.ResolvePair(states[i], states[i+1])
		out = append(out, res)
		if res.RiskFactor < minFactor {
			minFactor = res.RiskFactor
		}
	}
	return out, minFactor
}
