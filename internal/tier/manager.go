// Package tier implements the three-tier scan-frequency state machine that
// decides, per symbol, how often trigger predicates run.
package tier

import (
	"sync"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/detect"
	"github.com/Subthedev/QuantumX-sub000/internal/events"
	"github.com/Subthedev/QuantumX-sub000/internal/logging"
)

// SymbolState is a read-only snapshot of one symbol's scheduling state
type SymbolState struct {
	Symbol       string          `json:"symbol"`
	Tier         int             `json:"tier"`
	LastAnomaly  time.Time       `json:"last_anomaly"`
	LastSeverity detect.Severity `json:"last_severity"`
	LastCheck    time.Time       `json:"last_check"`
	Promotions   uint64          `json:"promotions"`
	Demotions    uint64          `json:"demotions"`
	Checks       uint64          `json:"checks"`
}

type symbolState struct {
	tier         int
	lastAnomaly  time.Time
	lastSeverity detect.Severity
	lastCheck    time.Time
	promotions   uint64
	demotions    uint64
	checks       uint64
}

// Config holds the tier cadence settings
type Config struct {
	Intervals [3]time.Duration // scan interval per tier, index 0 = tier 1
	Timeouts  [2]time.Duration // idle demotion timeout, index 0 = tier 2
}

// DefaultConfig returns the standard cadence: 5s/1s/500ms intervals,
// 30s/10s idle timeouts.
func DefaultConfig() Config {
	return Config{
		Intervals: [3]time.Duration{5 * time.Second, time.Second, 500 * time.Millisecond},
		Timeouts:  [2]time.Duration{30 * time.Second, 10 * time.Second},
	}
}

// Manager is the adaptive tier state machine. ShouldCheck is the sole
// authority for running trigger predicates outside anomaly-forced paths.
type Manager struct {
	cfg    Config
	bus    *events.Bus
	logger *logging.Logger

	mu      sync.Mutex
	symbols map[string]*symbolState

	now func() time.Time
}

// NewManager creates a tier manager with the wall clock
func NewManager(cfg Config, bus *events.Bus, logger *logging.Logger) *Manager {
	return NewManagerAt(cfg, bus, logger, time.Now)
}

// NewManagerAt creates a tier manager with an injected clock, for tests
func NewManagerAt(cfg Config, bus *events.Bus, logger *logging.Logger, now func() time.Time) *Manager {
	return &Manager{
		cfg:     cfg,
		bus:     bus,
		logger:  logger.WithComponent("tier"),
		symbols: make(map[string]*symbolState),
		now:     now,
	}
}

// RecordAnomaly applies the promotion rules for one anomaly assessment.
// CRITICAL/HIGH promote to tier 3, MEDIUM to at least tier 2; promotion
// never demotes.
func (m *Manager) RecordAnomaly(symbol string, severity detect.Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.get(symbol)
	s.lastAnomaly = m.now()
	s.lastSeverity = severity

	target := s.tier
	switch {
	case severity >= detect.SeverityHigh:
		target = 3
	case severity == detect.SeverityMedium:
		if s.tier < 2 {
			target = 2
		}
	}

	if target > s.tier {
		from := s.tier
		s.tier = target
		s.promotions++
		m.bus.PublishTierChange(symbol, from, target, severity.String())
		m.logger.Debug("Tier promoted",
			"symbol", symbol,
			"from", from,
			"to", target,
			"severity", severity.String())
	}
}

// ShouldCheck applies idle demotion, then answers whether the symbol's scan
// interval has elapsed. Demotion is at most one level per call and never
// fires within the tier timeout of the last anomaly.
func (m *Manager) ShouldCheck(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.get(symbol)
	now := m.now()

	if s.tier > 1 {
		timeout := m.cfg.Timeouts[s.tier-2]
		if !s.lastAnomaly.IsZero() && now.Sub(s.lastAnomaly) > timeout {
			from := s.tier
			s.tier--
			s.demotions++
			s.lastAnomaly = now
			m.bus.PublishTierChange(symbol, from, s.tier, "idle_timeout")
			m.logger.Debug("Tier demoted",
				"symbol", symbol,
				"from", from,
				"to", s.tier)
		}
	}

	interval := m.cfg.Intervals[s.tier-1]
	if s.lastCheck.IsZero() || now.Sub(s.lastCheck) >= interval {
		s.lastCheck = now
		s.checks++
		return true
	}
	return false
}

// TierOf returns the symbol's current tier, 1 for unknown symbols
func (m *Manager) TierOf(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.symbols[symbol]; ok {
		return s.tier
	}
	return 1
}

// Snapshot returns the scheduling state for every tracked symbol
func (m *Manager) Snapshot() []SymbolState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SymbolState, 0, len(m.symbols))
	for sym, s := range m.symbols {
		out = append(out, SymbolState{
			Symbol:       sym,
			Tier:         s.tier,
			LastAnomaly:  s.lastAnomaly,
			LastSeverity: s.lastSeverity,
			LastCheck:    s.lastCheck,
			Promotions:   s.promotions,
			Demotions:    s.demotions,
			Checks:       s.checks,
		})
	}
	return out
}

// get returns the state for symbol, creating it at tier 1. Caller holds mu.
func (m *Manager) get(symbol string) *symbolState {
	s, ok := m.symbols[symbol]
	if !ok {
		s = &symbolState{tier: 1}
		m.symbols[symbol] = s
	}
	return s
}
