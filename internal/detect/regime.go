package detect

import (
	"sync"

	"github.com/Subthedev/QuantumX-sub000/internal/indicators"
)

// Regime labels recent realised volatility for a symbol
type Regime string

const (
	RegimeCalm     Regime = "CALM"
	RegimeNormal   Regime = "NORMAL"
	RegimeVolatile Regime = "VOLATILE"
	RegimeExtreme  Regime = "EXTREME"
)

// Thresholds are the trigger predicates' working values after regime scaling
type Thresholds struct {
	PriceChangePct      float64 `json:"price_change_pct"`
	VelocityPctPerSec   float64 `json:"velocity_pct_per_sec"`
	SpreadWideningRatio float64 `json:"spread_widening_ratio"`
	VolumeSurgeRatio    float64 `json:"volume_surge_ratio"`
}

// RegimeChange reports a transition for event emission
type RegimeChange struct {
	Symbol     string
	From       Regime
	To         Regime
	Volatility float64
	Thresholds Thresholds
}

// ringCap bounds the per-symbol diff window
const ringCap = 20

// minSamples is the diff count below which the regime stays NORMAL
const minSamples = 5

type regimeState struct {
	diffs  []float64 // abs percent changes, newest last
	regime Regime
	sigma  float64
}

// RegimeTracker maintains a rolling volatility window per symbol and maps
// it onto a regime label with its threshold multipliers. The regime is a
// pure function of the window contents.
type RegimeTracker struct {
	mu    sync.Mutex
	base  Thresholds
	state map[string]*regimeState
}

// NewRegimeTracker creates a tracker with the given base thresholds
func NewRegimeTracker(base Thresholds) *RegimeTracker {
	return &RegimeTracker{base: base, state: make(map[string]*regimeState)}
}

// Observe appends one absolute percent change for the symbol and returns a
// non-nil change when the regime transitions.
func (r *RegimeTracker) Observe(symbol string, absPctChange float64) *RegimeChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.state[symbol]
	if !ok {
		s = &regimeState{regime: RegimeNormal}
		r.state[symbol] = s
	}

	s.diffs = append(s.diffs, absPctChange)
	if len(s.diffs) > ringCap {
		s.diffs = s.diffs[1:]
	}

	if len(s.diffs) < minSamples {
		return nil
	}

	s.sigma = indicators.StdDev(s.diffs)
	next := regimeForSigma(s.sigma)
	if next == s.regime {
		return nil
	}

	prev := s.regime
	s.regime = next
	return &RegimeChange{
		Symbol:     symbol,
		From:       prev,
		To:         next,
		Volatility: s.sigma,
		Thresholds: ScaleThresholds(r.base, next),
	}
}

// RegimeOf returns the current regime for the symbol, NORMAL before enough
// samples accumulate.
func (r *RegimeTracker) RegimeOf(symbol string) Regime {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.state[symbol]; ok {
		return s.regime
	}
	return RegimeNormal
}

// Volatility returns the current rolling sigma for the symbol
func (r *RegimeTracker) Volatility(symbol string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.state[symbol]; ok {
		return s.sigma
	}
	return 0
}

// ThresholdsFor returns the base thresholds scaled by the symbol's regime
func (r *RegimeTracker) ThresholdsFor(symbol string) Thresholds {
	return ScaleThresholds(r.base, r.RegimeOf(symbol))
}

func regimeForSigma(sigma float64) Regime {
	switch {
	case sigma < 0.5:
		return RegimeCalm
	case sigma <= 1.5:
		return RegimeNormal
	case sigma <= 3.0:
		return RegimeVolatile
	default:
		return RegimeExtreme
	}
}

// ScaleThresholds applies the regime multiplier table to base thresholds
func ScaleThresholds(base Thresholds, regime Regime) Thresholds {
	var price, velocity, spread, volume float64
	switch regime {
	case RegimeCalm:
		price, velocity, spread, volume = 0.4, 0.5, 1.0, 0.6
	case RegimeVolatile:
		price, velocity, spread, volume = 1.5, 1.3, 1.3, 1.4
	case RegimeExtreme:
		price, velocity, spread, volume = 2.0, 1.5, 1.5, 2.0
	default:
		price, velocity, spread, volume = 1.0, 1.0, 1.0, 1.0
	}
	return Thresholds{
		PriceChangePct:      base.PriceChangePct * price,
		VelocityPctPerSec:   base.VelocityPctPerSec * velocity,
		SpreadWideningRatio: base.SpreadWideningRatio * spread,
		VolumeSurgeRatio:    base.VolumeSurgeRatio * volume,
	}
}

// MarketCondition derives the coarse market-condition tag used by the
// selector from a regime label.
func MarketCondition(regime Regime) string {
	switch regime {
	case RegimeVolatile, RegimeExtreme:
		return "volatile"
	case RegimeCalm:
		return "ranging"
	default:
		return "trending"
	}
}
