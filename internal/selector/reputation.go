// Package selector picks one winner from the strategy bank's verdicts and
// tracks per-strategy reputation from signal outcomes.
package selector

import (
	"fmt"
	"sync"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/strategy"
)

// Outcome labels reported back by the external barrier monitor
type Outcome string

const (
	OutcomeWinTP1        Outcome = "WIN_TP1"
	OutcomeWinTP2        Outcome = "WIN_TP2"
	OutcomeWinTP3        Outcome = "WIN_TP3"
	OutcomeLossSL        Outcome = "LOSS_SL"
	OutcomeLossPartial   Outcome = "LOSS_PARTIAL"
	OutcomeTimeoutProfit Outcome = "TIMEOUT_PROFIT"
	OutcomeTimeoutLoss   Outcome = "TIMEOUT_LOSS"
	OutcomeTimeoutFlat   Outcome = "TIMEOUT_FLAT"
	OutcomeCancelled     Outcome = "CANCELLED"
)

// IsWin reports whether the outcome counts toward the win rate
func (o Outcome) IsWin() bool {
	switch o {
	case OutcomeWinTP1, OutcomeWinTP2, OutcomeWinTP3, OutcomeTimeoutProfit:
		return true
	}
	return false
}

// IsLoss reports whether the outcome counts toward the loss rate
func (o Outcome) IsLoss() bool {
	switch o {
	case OutcomeLossSL, OutcomeLossPartial, OutcomeTimeoutLoss:
		return true
	}
	return false
}

// Valid reports whether the label is one of the nine recognised outcomes
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeWinTP1, OutcomeWinTP2, OutcomeWinTP3,
		OutcomeLossSL, OutcomeLossPartial,
		OutcomeTimeoutProfit, OutcomeTimeoutLoss, OutcomeTimeoutFlat,
		OutcomeCancelled:
		return true
	}
	return false
}

// SignalRecord is one emitted signal awaiting an outcome
type SignalRecord struct {
	SignalID  string             `json:"signal_id"`
	Strategy  string             `json:"strategy"`
	Symbol    string             `json:"symbol"`
	Direction strategy.Direction `json:"direction"`
	Entry     float64            `json:"entry"`
	Condition string             `json:"condition"`
	CreatedAt time.Time          `json:"created_at"`
}

type aggregate struct {
	total  int
	wins   int
	losses int
}

func (a *aggregate) winRate() float64 {
	decided := a.wins + a.losses
	if decided == 0 {
		return 0.5
	}
	return float64(a.wins) / float64(decided)
}

// reputationK maps win rate onto the factor: 70% win rate lands near +15%
const reputationK = 0.75

// minOutcomes is the decided-outcome count below which the factor stays
// neutral
const minOutcomes = 5

// Reputation maintains per-strategy and per-market-condition outcome
// aggregates and turns them into confidence adjustments.
type Reputation struct {
	mu          sync.RWMutex
	pending     map[string]SignalRecord // by signal id
	byStrategy  map[string]*aggregate
	byCondition map[string]map[string]*aggregate // strategy -> condition

	logger *logging.Logger
}

// NewReputation creates an empty tracker
func NewReputation(logger *logging.Logger) *Reputation {
	return &Reputation{
		pending:     make(map[string]SignalRecord),
		byStrategy:  make(map[string]*aggregate),
		byCondition: make(map[string]map[string]*aggregate),
		logger:      logger.WithComponent("reputation"),
	}
}

// Record registers an emitted signal so a later outcome can be attributed
func (r *Reputation) Record(rec SignalRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[rec.SignalID] = rec
}

// ReportOutcome attributes one outcome label to a recorded signal. Unknown
// signal ids and invalid labels are errors; the aggregates are untouched.
func (r *Reputation) ReportOutcome(signalID string, outcome Outcome, returnPct float64) error {
	if !outcome.Valid() {
		return fmt.Errorf("unknown outcome label %q", outcome)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.pending[signalID]
	if !ok {
		return fmt.Errorf("no recorded signal with id %s", signalID)
	}
	delete(r.pending, signalID)

	agg := r.strategyAgg(rec.Strategy)
	agg.total++
	condAgg := r.conditionAgg(rec.Strategy, rec.Condition)
	condAgg.total++

	switch {
	case outcome.IsWin():
		agg.wins++
		condAgg.wins++
	case outcome.IsLoss():
		agg.losses++
		condAgg.losses++
	}

	r.logger.Info("Signal outcome recorded",
		"signal_id", signalID,
		"strategy", rec.Strategy,
		"symbol", rec.Symbol,
		"outcome", string(outcome),
		"return_pct", returnPct,
		"win_rate", agg.winRate())
	return nil
}

// Factor returns the reputation multiplier for a strategy under a market
// condition, always within [0.8, 1.2]. Unknown strategies and thin history
// stay at 1.0.
func (r *Reputation) Factor(strategyName, condition string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, _ := r.factorLocked(strategyName, condition)
	return f
}

// AdjustConfidence applies the reputation factor to a confidence value and
// explains the adjustment.
func (r *Reputation) AdjustConfidence(strategyName string, confidence float64, condition string) (adjusted, boostPct float64, reason string) {
	r.mu.RLock()
	factor, why := r.factorLocked(strategyName, condition)
	r.mu.RUnlock()

	adjusted = confidence * factor
	if adjusted > 100 {
		adjusted = 100
	}
	if adjusted < 0 {
		adjusted = 0
	}
	return adjusted, (factor - 1) * 100, why
}

// Pending returns how many signals await an outcome
func (r *Reputation) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// StrategyStats reports (total, wins, losses, winRate) for one strategy
func (r *Reputation) StrategyStats(strategyName string) (total, wins, losses int, winRate float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agg, ok := r.byStrategy[strategyName]
	if !ok {
		return 0, 0, 0, 0.5
	}
	return agg.total, agg.wins, agg.losses, agg.winRate()
}

func (r *Reputation) factorLocked(strategyName, condition string) (float64, string) {
	agg := r.byStrategy[strategyName]
	if agg == nil {
		return 1.0, "no history"
	}

	// Prefer the condition-specific record when it has enough depth
	if conds, ok := r.byCondition[strategyName]; ok {
		if cond, ok := conds[condition]; ok && cond.wins+cond.losses >= minOutcomes {
			agg = cond
		}
	}

	decided := agg.wins + agg.losses
	if decided < minOutcomes {
		return 1.0, fmt.Sprintf("only %d decided outcomes", decided)
	}

	winRate := agg.winRate()
	factor := 1 + (winRate-0.5)*reputationK
	if factor < 0.8 {
		factor = 0.8
	}
	if factor > 1.2 {
		factor = 1.2
	}
	return factor, fmt.Sprintf("win rate %.0f%% over %d outcomes", winRate*100, decided)
}

func (r *Reputation) strategyAgg(name string) *aggregate {
	agg, ok := r.byStrategy[name]
	if !ok {
		agg = &aggregate{}
		r.byStrategy[name] = agg
	}
	return agg
}

func (r *Reputation) conditionAgg(name, condition string) *aggregate {
	conds, ok := r.byCondition[name]
	if !ok {
		conds = make(map[string]*aggregate)
		r.byCondition[name] = conds
	}
	agg, ok := conds[condition]
	if !ok {
		agg = &aggregate{}
		conds[condition] = agg
	}
	return agg
}
