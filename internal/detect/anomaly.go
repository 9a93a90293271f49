// Package detect holds the per-tick scoring layers that decide how much
// attention a symbol deserves: micro-anomaly scoring, volatility regimes,
// and the noise-rejecting significance filter.
package detect

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/market"
)

// Severity ranks an anomaly assessment
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityHigh:
		return "HIGH"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityLow:
		return "LOW"
	default:
		return "NONE"
	}
}

// Assessment is the result of scoring one tick against its predecessor
type Assessment struct {
	Severity Severity
	Reasons  []string
	Elapsed  time.Duration
}

type velocitySample struct {
	velocity float64 // abs %/s over the interval ending at ts
	ts       int64
}

type anomalyState struct {
	prev       market.Ticker
	hasPrev    bool
	velocities []velocitySample // trailing window, newest last
}

// AnomalyDetector scores every tick in O(1) against the previous tick for
// the same symbol. It runs on the hot path and must stay within a 1 ms
// budget per call. Calls for the same symbol are already serialised by the
// orchestrator; the lock covers concurrent symbols sharing the state map.
type AnomalyDetector struct {
	mu     sync.Mutex
	logger *logging.Logger
	state  map[string]*anomalyState

	budgetBreaches uint64
}

// velocityWindow is the trailing sample count for acceleration checks
const velocityWindow = 5

// NewAnomalyDetector creates a detector
func NewAnomalyDetector(logger *logging.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		logger: logger.WithComponent("anomaly"),
		state:  make(map[string]*anomalyState),
	}
}

// Check scores the tick. The first tick for a symbol, and any pair with a
// non-positive time delta, yields NONE.
func (d *AnomalyDetector) Check(t market.Ticker) Assessment {
	start := time.Now()
	a := d.check(t)
	a.Elapsed = time.Since(start)

	if a.Elapsed > time.Millisecond {
		atomic.AddUint64(&d.budgetBreaches, 1)
		d.logger.Warn("Anomaly check over budget",
			"symbol", t.Symbol,
			"elapsed", a.Elapsed.String())
	}
	return a
}

// BudgetBreaches reports how many checks exceeded the 1 ms budget
func (d *AnomalyDetector) BudgetBreaches() uint64 {
	return atomic.LoadUint64(&d.budgetBreaches)
}

func (d *AnomalyDetector) check(t market.Ticker) Assessment {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.state[t.Symbol]
	if !ok {
		s = &anomalyState{}
		d.state[t.Symbol] = s
	}

	prev := s.prev
	hadPrev := s.hasPrev
	s.prev = t
	s.hasPrev = true

	if !hadPrev {
		return Assessment{Severity: SeverityNone}
	}

	dtMs := t.SourceTs - prev.SourceTs
	if dtMs <= 0 {
		return Assessment{Severity: SeverityNone}
	}
	dtSec := float64(dtMs) / 1000.0

	var (
		severity Severity
		reasons  []string
	)
	raise := func(sev Severity, reason string) {
		if sev > severity {
			severity = sev
		}
		reasons = append(reasons, reason)
	}

	// Price gap
	gapPct := math.Abs(t.Price-prev.Price) / prev.Price * 100
	switch {
	case gapPct > 2.0:
		raise(SeverityCritical, "price_gap")
	case gapPct > 1.0:
		raise(SeverityHigh, "price_gap")
	case gapPct > 0.5:
		raise(SeverityMedium, "price_gap")
	}

	// Price velocity
	velocity := gapPct / dtSec
	switch {
	case velocity > 2.0:
		raise(SeverityCritical, "velocity")
	case velocity > 1.0:
		raise(SeverityHigh, "velocity")
	case velocity > 0.5:
		raise(SeverityMedium, "velocity")
	}

	// Spread change
	spreadDelta := math.Abs(t.SpreadPct() - prev.SpreadPct())
	switch {
	case spreadDelta > 1.0:
		raise(SeverityHigh, "spread_change")
	case spreadDelta > 0.5:
		raise(SeverityMedium, "spread_change")
	}

	// Acceleration over the trailing velocity window
	s.velocities = append(s.velocities, velocitySample{velocity: velocity, ts: t.SourceTs})
	if len(s.velocities) > velocityWindow {
		s.velocities = s.velocities[1:]
	}
	if len(s.velocities) == velocityWindow {
		if s.velocities[velocityWindow-1].velocity-s.velocities[0].velocity > 1.0 {
			raise(SeverityHigh, "acceleration")
		}
	}

	// Volume surge heuristic on the 24h cumulative figure
	if prev.QuoteVolume24h > 0 && dtMs < 5000 {
		volChangePct := math.Abs(t.QuoteVolume24h-prev.QuoteVolume24h) / prev.QuoteVolume24h * 100
		if volChangePct > 20 {
			raise(SeverityMedium, "volume_surge")
		}
	}

	return Assessment{Severity: severity, Reasons: reasons}
}
