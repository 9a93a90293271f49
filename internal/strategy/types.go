// Package strategy defines the strategy contract, the input bundle built by
// enrichment, and the parallel dispatcher that fans ticks out to the bank.
package strategy

import (
	"context"

	"github.com/Subthedev/QuantumX-sub000/internal/indicators"
	"github.com/Subthedev/QuantumX-sub000/internal/market"
)

// Direction of a signal
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Strength grades a verdict's conviction
type Strength string

const (
	StrengthStrong   Strength = "STRONG"
	StrengthModerate Strength = "MODERATE"
	StrengthWeak     Strength = "WEAK"
)

// DefaultMinConfidence applies when a strategy does not declare its own
const DefaultMinConfidence = 65.0

// OrderBookMetrics are derived from ticker bid/ask when no depth feed is
// available.
type OrderBookMetrics struct {
	Imbalance   float64 `json:"imbalance"`     // [0.5, 2.0]
	BuyPressure float64 `json:"buy_pressure"`  // [0, 100]
	BidAskRatio float64 `json:"bid_ask_ratio"`
}

// Input is the read-only bundle handed to every strategy. Strategies must
// not mutate it.
type Input struct {
	Ticker          market.Ticker
	Candles         []market.Candle
	Indicators      *indicators.Set
	Sentiment       float64 // Fear & Greed, 0-100, neutral 50
	FundingRate     float64 // neutral 0
	ExchangeNetflow float64 // neutral 0
	WhaleActivity   float64 // 0-1, neutral 0.5
	OrderBook       OrderBookMetrics
	MarketCondition string // trending | ranging | volatile
}

// Verdict is a strategy's output: either a rejection with a reason, or a
// full directional signal.
type Verdict struct {
	Symbol     string    `json:"symbol"`
	Strategy   string    `json:"strategy"`
	Rejected   bool      `json:"rejected"`
	Reason     string    `json:"reason,omitempty"`
	Direction  Direction `json:"direction,omitempty"`
	Confidence float64   `json:"confidence"` // 0-100
	Strength   Strength  `json:"strength,omitempty"`
	EntryMin   float64   `json:"entry_min"`
	EntryMax   float64   `json:"entry_max"`
	StopLoss   float64   `json:"stop_loss"`
	Target1    float64   `json:"target1"`
	Target2    float64   `json:"target2"`
	Target3    float64   `json:"target3"`
	RiskReward float64   `json:"risk_reward"`
	Timeframe  string    `json:"timeframe"`
	Reasoning  string    `json:"reasoning"`

	Indicators *indicators.Set `json:"indicators,omitempty"`
}

// Reject builds a rejection verdict
func Reject(symbol, strategyName, reason string) *Verdict {
	return &Verdict{
		Symbol:   symbol,
		Strategy: strategyName,
		Rejected: true,
		Reason:   reason,
	}
}

// Strategy is the contract every bank member implements. Evaluate must be
// pure over the input bundle and return promptly; the dispatcher enforces a
// timeout on top.
type Strategy interface {
	Name() string
	MinConfidence() float64
	Evaluate(ctx context.Context, input *Input) (*Verdict, error)
}
