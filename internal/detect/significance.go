package detect

import (
	"math"

	"github.com/Subthedev/QuantumX-sub000/internal/market"
)

// VolatilityCategory is the per-asset volatility profile, distinct from the
// rolling regime: it reflects what the asset IS, not what it is doing now.
type VolatilityCategory string

const (
	CategoryUltraLow VolatilityCategory = "ULTRA_LOW" // stablecoins
	CategoryLow      VolatilityCategory = "LOW"
	CategoryMedium   VolatilityCategory = "MEDIUM"
	CategoryHigh     VolatilityCategory = "HIGH"
	CategoryExtreme  VolatilityCategory = "EXTREME" // meme assets
)

// SignificanceLevel grades one dimension of a trigger
type SignificanceLevel int

const (
	Noise SignificanceLevel = iota
	SignificanceLow
	SignificanceMedium
	SignificanceHigh
	SignificanceCritical
)

func (l SignificanceLevel) String() string {
	switch l {
	case SignificanceCritical:
		return "CRITICAL"
	case SignificanceHigh:
		return "HIGH"
	case SignificanceMedium:
		return "MEDIUM"
	case SignificanceLow:
		return "LOW"
	default:
		return "NOISE"
	}
}

// DimensionResult is one per-dimension check outcome
type DimensionResult struct {
	Dimension  string
	Level      SignificanceLevel
	Confidence float64 // 0-100
}

// SignificanceResult combines all checked dimensions
type SignificanceResult struct {
	Level      SignificanceLevel
	Confidence float64
	Dimensions []DimensionResult
}

// Observation carries the measured trigger dimensions for one tick. Zero
// values mean the dimension was not measured and is skipped.
type Observation struct {
	PriceChangePct    float64 // abs percent move
	VelocityPctPerSec float64 // abs percent per second
	VolumeRatio       float64 // current/avg
	SpreadRatio       float64 // current spread / recent baseline spread
	BidAskRatio       float64 // bid/ask
}

// Base significance thresholds before category scaling
const (
	basePriceChangePct   = 1.0
	baseVelocityPctSec   = 0.5
	baseVolumeSpikeRatio = 1.5
	baseSpreadRatio      = 2.0
	baseBidAskDeviation  = 0.3
)

// SignificanceFilter rejects triggers that are noise for the asset's nature.
// A 0.7% move is an event on a stablecoin and nothing on a meme coin.
type SignificanceFilter struct {
	categories map[string]VolatilityCategory
}

// NewSignificanceFilter builds a filter with the known stablecoins seeded
// ULTRA_LOW and explicit overrides applied on top.
func NewSignificanceFilter(overrides map[string]VolatilityCategory) *SignificanceFilter {
	f := &SignificanceFilter{categories: make(map[string]VolatilityCategory)}
	for id := range market.StablecoinIDs {
		f.categories[id] = CategoryUltraLow
	}
	f.categories["bitcoin"] = CategoryLow
	f.categories["ethereum"] = CategoryLow
	for sym, cat := range overrides {
		f.categories[sym] = cat
	}
	return f
}

// Categorize returns the symbol's volatility category, MEDIUM by default
func (f *SignificanceFilter) Categorize(symbol string) VolatilityCategory {
	if cat, ok := f.categories[symbol]; ok {
		return cat
	}
	return CategoryMedium
}

// SetCategory overrides the category for one symbol
func (f *SignificanceFilter) SetCategory(symbol string, cat VolatilityCategory) {
	f.categories[symbol] = cat
}

func categoryMultiplier(cat VolatilityCategory) float64 {
	switch cat {
	case CategoryUltraLow:
		return 0.1
	case CategoryLow:
		return 0.5
	case CategoryHigh:
		return 1.5
	case CategoryExtreme:
		return 2.0
	default:
		return 1.0
	}
}

// Check grades every measured dimension and combines them: the result is
// the max-severity non-NOISE dimension, with confidence boosted by 10 when
// three or more dimensions are significant. All-NOISE means drop.
func (f *SignificanceFilter) Check(symbol string, obs Observation) SignificanceResult {
	mult := categoryMultiplier(f.Categorize(symbol))

	var dims []DimensionResult
	add := func(name string, value, threshold float64) {
		dims = append(dims, gradeDimension(name, value, threshold))
	}

	if obs.PriceChangePct != 0 {
		add("price_change", math.Abs(obs.PriceChangePct), basePriceChangePct*mult)
	}
	if obs.VelocityPctPerSec != 0 {
		add("velocity", math.Abs(obs.VelocityPctPerSec), baseVelocityPctSec*mult)
	}
	if obs.VolumeRatio != 0 {
		add("volume_spike", obs.VolumeRatio, baseVolumeSpikeRatio*mult)
	}
	if obs.SpreadRatio != 0 {
		add("spread_widening", obs.SpreadRatio, baseSpreadRatio*mult)
	}
	if obs.BidAskRatio != 0 {
		add("bid_ask_deviation", math.Abs(obs.BidAskRatio-1.0), baseBidAskDeviation*mult)
	}

	result := SignificanceResult{Level: Noise, Dimensions: dims}
	significant := 0
	for _, d := range dims {
		if d.Level == Noise {
			continue
		}
		significant++
		if d.Level > result.Level || (d.Level == result.Level && d.Confidence > result.Confidence) {
			result.Level = d.Level
			result.Confidence = d.Confidence
		}
	}

	if significant >= 3 {
		result.Confidence = math.Min(100, result.Confidence+10)
	}
	return result
}

// gradeDimension maps how far a value exceeds its scaled threshold onto a
// level and a confidence. At or below the threshold is NOISE.
func gradeDimension(name string, value, threshold float64) DimensionResult {
	if threshold <= 0 || value < threshold {
		return DimensionResult{Dimension: name, Level: Noise}
	}

	ratio := value / threshold
	var level SignificanceLevel
	switch {
	case ratio >= 3.0:
		level = SignificanceCritical
	case ratio >= 2.0:
		level = SignificanceHigh
	case ratio >= 1.5:
		level = SignificanceMedium
	default:
		level = SignificanceLow
	}

	// Confidence rises from 50 at the threshold toward 100 at 3x
	confidence := 50 + (ratio-1.0)*25
	if confidence > 100 {
		confidence = 100
	}
	return DimensionResult{Dimension: name, Level: level, Confidence: confidence}
}
