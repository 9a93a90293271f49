package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Subthedev/QuantumX-sub000/internal/selector"
)

// RiskLevel buckets the stop distance relative to price
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
)

// SignalRecord is the persisted, broadcast form of a winning verdict
type SignalRecord struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Direction    string    `json:"direction"`
	Timeframe    string    `json:"timeframe"` // encoded STRATEGY:timeframe
	EntryMin     float64   `json:"entry_min"`
	EntryMax     float64   `json:"entry_max"`
	CurrentPrice float64   `json:"current_price"`
	StopLoss     float64   `json:"stop_loss"`
	Target1      float64   `json:"target1"`
	Target2      float64   `json:"target2"`
	Target3      float64   `json:"target3"`
	Confidence   int       `json:"confidence"` // 0-100
	Strength     string    `json:"strength"`
	RiskLevel    RiskLevel `json:"risk_level"`
	Status       string    `json:"status"`
	Reasoning    string    `json:"reasoning"`
	Selection    string    `json:"selection_reason"`
	Condition    string    `json:"market_condition"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TriggerRecord is the persisted trace of one significant trigger
type TriggerRecord struct {
	Symbol          string    `json:"symbol"`
	Strategy        string    `json:"strategy"`
	Reason          string    `json:"reason"`
	Priority        string    `json:"priority"`
	MarketPrice     float64   `json:"market_price"`
	Change1h        float64   `json:"change_1h"`
	Volume24h       float64   `json:"volume_24h"`
	SignalGenerated bool      `json:"signal_generated"`
	Rejected        bool      `json:"rejected"`
	RejectionReason string    `json:"rejection_reason"`
	Reasoning       string    `json:"reasoning"`
	Indicators      string    `json:"indicators"` // JSON snapshot
	CreatedAt       time.Time `json:"created_at"`
}

// Sink is the downstream persistence boundary. Failures are surfaced as
// errors; the engine counts them and keeps going.
type Sink interface {
	SaveSignal(ctx context.Context, rec *SignalRecord) error
	SaveTrigger(ctx context.Context, rec *TriggerRecord) error
	Close()
}

// NopSink drops everything; used when persistence is disabled
type NopSink struct{}

func (NopSink) SaveSignal(context.Context, *SignalRecord) error   { return nil }
func (NopSink) SaveTrigger(context.Context, *TriggerRecord) error { return nil }
func (NopSink) Close()                                            {}

// buildSignalRecord converts a selection winner into the persisted record
func buildSignalRecord(sel *selector.Selection, price float64, condition string, now time.Time) *SignalRecord {
	v := sel.Winner

	return &SignalRecord{
		ID:           uuid.New().String(),
		Symbol:       v.Symbol,
		Direction:    string(v.Direction),
		Timeframe:    fmt.Sprintf("%s:%s", v.Strategy, v.Timeframe),
		EntryMin:     v.EntryMin,
		EntryMax:     v.EntryMax,
		CurrentPrice: price,
		StopLoss:     v.StopLoss,
		Target1:      v.Target1,
		Target2:      v.Target2,
		Target3:      v.Target3,
		Confidence:   int(math.Round(sel.AdjustedWinner)),
		Strength:     string(v.Strength),
		RiskLevel:    riskLevelFor(price, v.StopLoss),
		Status:       "ACTIVE",
		Reasoning:    v.Reasoning,
		Selection:    sel.SelectionReason,
		Condition:    condition,
		CreatedAt:    now,
		ExpiresAt:    now.Add(expiryFor(v.Timeframe)),
	}
}

// riskLevelFor buckets |stop - price| / price
func riskLevelFor(price, stop float64) RiskLevel {
	if price <= 0 {
		return RiskHigh
	}
	distPct := math.Abs(stop-price) * 100 / price
	switch {
	case distPct < 3:
		return RiskLow
	case distPct <= 7:
		return RiskModerate
	default:
		return RiskHigh
	}
}

// expiryFor maps the verdict timeframe onto a signal lifetime: scalps get
// 2h, swing 72h, weekly 168h, everything else 24h.
func expiryFor(timeframe string) time.Duration {
	d := parseTimeframe(timeframe)
	switch {
	case d <= 0:
		return 24 * time.Hour
	case d < time.Hour:
		return 2 * time.Hour
	case d >= 7*24*time.Hour:
		return 168 * time.Hour
	case d >= 24*time.Hour:
		return 72 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// parseTimeframe understands the usual chart suffixes: 15m, 1h, 4h, 1d, 1w
func parseTimeframe(tf string) time.Duration {
	tf = strings.ToLower(strings.TrimSpace(tf))
	if tf == "" {
		return 0
	}

	unit := tf[len(tf)-1]
	var n int
	if _, err := fmt.Sscanf(tf[:len(tf)-1], "%d", &n); err != nil || n <= 0 {
		return 0
	}

	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour
	default:
		return 0
	}
}

// signalPayload flattens a record for the event stream
func signalPayload(rec *SignalRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":               rec.ID,
		"symbol":           rec.Symbol,
		"direction":        rec.Direction,
		"timeframe":        rec.Timeframe,
		"entry_min":        rec.EntryMin,
		"entry_max":        rec.EntryMax,
		"current_price":    rec.CurrentPrice,
		"stop_loss":        rec.StopLoss,
		"target1":          rec.Target1,
		"target2":          rec.Target2,
		"target3":          rec.Target3,
		"confidence":       rec.Confidence,
		"strength":         rec.Strength,
		"risk_level":       string(rec.RiskLevel),
		"status":           rec.Status,
		"reasoning":        rec.Reasoning,
		"selection_reason": rec.Selection,
		"market_condition": rec.Condition,
		"created_at":       rec.CreatedAt.UTC().Format(time.RFC3339),
		"expires_at":       rec.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// strategyName extracts the strategy half of the encoded timeframe
func (r *SignalRecord) StrategyName() string {
	if i := strings.IndexByte(r.Timeframe, ':'); i > 0 {
		return r.Timeframe[:i]
	}
	return r.Timeframe
}
