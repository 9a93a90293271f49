package market

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Result reports the outcome of normalizing one tick. The normalizer never
// returns an error value; invalid ticks are reported through Valid/Errors.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Normalizer validates, rounds, and tags freshness on canonical ticks.
type Normalizer struct {
	rejected uint64
	warned   uint64

	now func() time.Time
}

// NewNormalizer creates a normalizer using the wall clock
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewNormalizerAt creates a normalizer with an injected clock, for tests
func NewNormalizerAt(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize validates the candidate tick, rounds its numeric fields, and
// assigns the freshness quality tag. The returned ticker is only meaningful
// when the result is valid. Normalization is idempotent on valid ticks.
func (n *Normalizer) Normalize(t Ticker) (Ticker, Result) {
	var res Result

	if t.Symbol == "" {
		res.Errors = append(res.Errors, "missing canonical symbol")
	}
	if t.Price <= 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("price must be positive, got %v", t.Price))
	}
	if t.Bid > 0 && t.Ask > 0 && t.Bid > t.Ask {
		res.Errors = append(res.Errors, fmt.Sprintf("bid %v above ask %v", t.Bid, t.Ask))
	}
	if t.High24h > 0 && t.Low24h > 0 && t.Low24h > t.High24h {
		res.Errors = append(res.Errors, fmt.Sprintf("low24h %v above high24h %v", t.Low24h, t.High24h))
	}
	if t.SourceTs <= 0 {
		res.Errors = append(res.Errors, "missing source timestamp")
	}
	if t.QuoteVolume24h < 0 {
		res.Warnings = append(res.Warnings, "negative 24h volume clamped to 0")
		t.QuoteVolume24h = 0
	}

	if len(res.Errors) > 0 {
		atomic.AddUint64(&n.rejected, 1)
		return t, res
	}
	if len(res.Warnings) > 0 {
		atomic.AddUint64(&n.warned, 1)
	}

	t.Price = RoundPrice(t.Price)
	t.Bid = RoundPrice(t.Bid)
	t.Ask = RoundPrice(t.Ask)
	t.High24h = RoundPrice(t.High24h)
	t.Low24h = RoundPrice(t.Low24h)
	t.QuoteVolume24h = round2(t.QuoteVolume24h)
	t.Change24h = round2(t.Change24h)
	t.ChangePct24h = round2(t.ChangePct24h)
	t.ChangePct1h = round2(t.ChangePct1h)

	now := n.now()
	if t.ReceivedTs == 0 {
		t.ReceivedTs = now.UnixMilli()
	}
	q := qualityForAge(now.UnixMilli() - t.SourceTs)
	// A source may pre-tag a lower quality (the HTTP fallback emits MEDIUM
	// at best); age can only downgrade further, never upgrade.
	if qualityRank(t.Quality) > qualityRank(q) {
		q = t.Quality
	}
	t.Quality = q

	res.Valid = true
	return t, res
}

// Rejected returns the count of dropped ticks
func (n *Normalizer) Rejected() uint64 { return atomic.LoadUint64(&n.rejected) }

// Warned returns the count of ticks emitted with warnings
func (n *Normalizer) Warned() uint64 { return atomic.LoadUint64(&n.warned) }

// qualityRank orders quality tags best-first; the empty tag ranks best so
// unset inputs never override the age-derived value.
func qualityRank(q Quality) int {
	switch q {
	case QualityMedium:
		return 1
	case QualityLow:
		return 2
	case QualityStale:
		return 3
	default:
		return 0
	}
}

func qualityForAge(ageMs int64) Quality {
	switch {
	case ageMs < 1000:
		return QualityHigh
	case ageMs < 10000:
		return QualityMedium
	case ageMs < 30000:
		return QualityLow
	default:
		return QualityStale
	}
}

// RoundPrice rounds a price by magnitude band: 2 decimals at >=1000,
// 4 at >=1, 6 at >=0.01, 8 below.
func RoundPrice(p float64) float64 {
	abs := math.Abs(p)
	switch {
	case abs >= 1000:
		return roundTo(p, 2)
	case abs >= 1:
		return roundTo(p, 4)
	case abs >= 0.01:
		return roundTo(p, 6)
	default:
		return roundTo(p, 8)
	}
}

func round2(v float64) float64 { return roundTo(v, 2) }

func roundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
