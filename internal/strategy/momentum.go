package strategy

import (
	"context"
	"fmt"
	"strings"
)

// MomentumStrategy looks for directional confluence across RSI, MACD, EMA
// alignment, and volume. It wants several independent confirmations before
// it commits to a direction.
type MomentumStrategy struct {
	minConfidence float64
}

// NewMomentumStrategy creates the strategy; minConfidence 0 uses the default
func NewMomentumStrategy(minConfidence float64) *MomentumStrategy {
	return &MomentumStrategy{minConfidence: minConfidence}
}

func (s *MomentumStrategy) Name() string { return "MOMENTUM_CONFLUENCE" }

func (s *MomentumStrategy) MinConfidence() float64 { return s.minConfidence }

func (s *MomentumStrategy) Evaluate(ctx context.Context, input *Input) (*Verdict, error) {
	ind := input.Indicators
	if ind == nil {
		return Reject(input.Ticker.Symbol, s.Name(), "no indicator data"), nil
	}

	price := input.Ticker.Price

	var bullScore, bearScore int
	var reasons []string

	// RSI direction, avoiding exhausted extremes
	switch {
	case ind.RSI > 55 && ind.RSI < 72:
		bullScore += 2
		reasons = append(reasons, fmt.Sprintf("RSI %.1f bullish", ind.RSI))
	case ind.RSI < 45 && ind.RSI > 28:
		bearScore += 2
		reasons = append(reasons, fmt.Sprintf("RSI %.1f bearish", ind.RSI))
	}

	// MACD histogram
	if ind.MACD.Histogram > 0 {
		bullScore += 2
		reasons = append(reasons, "MACD histogram positive")
	} else if ind.MACD.Histogram < 0 {
		bearScore += 2
		reasons = append(reasons, "MACD histogram negative")
	}

	// EMA alignment
	if ind.EMA20 > 0 && ind.EMA50 > 0 {
		if price > ind.EMA20 && ind.EMA20 > ind.EMA50 {
			bullScore += 2
			reasons = append(reasons, "price above aligned EMAs")
		} else if price < ind.EMA20 && ind.EMA20 < ind.EMA50 {
			bearScore += 2
			reasons = append(reasons, "price below aligned EMAs")
		}
	}

	// Volume confirmation strengthens whichever side leads
	if ind.Volume.Ratio > 1.5 {
		if bullScore > bearScore {
			bullScore++
		} else if bearScore > bullScore {
			bearScore++
		}
		reasons = append(reasons, fmt.Sprintf("volume %.1fx average", ind.Volume.Ratio))
	}

	// Recent move agrees
	if input.Ticker.ChangePct1h > 0.3 {
		bullScore++
	} else if input.Ticker.ChangePct1h < -0.3 {
		bearScore++
	}

	// Order-flow pressure from the book proxy
	if input.OrderBook.BuyPressure > 60 {
		bullScore++
		reasons = append(reasons, fmt.Sprintf("buy pressure %.0f%%", input.OrderBook.BuyPressure))
	} else if input.OrderBook.BuyPressure > 0 && input.OrderBook.BuyPressure < 40 {
		bearScore++
		reasons = append(reasons, fmt.Sprintf("sell pressure %.0f%%", 100-input.OrderBook.BuyPressure))
	}

	const required = 5
	var direction Direction
	score := 0
	switch {
	case bullScore >= required && bullScore > bearScore:
		direction = Long
		score = bullScore
	case bearScore >= required && bearScore > bullScore:
		direction = Short
		score = bearScore
	default:
		return Reject(input.Ticker.Symbol, s.Name(),
			fmt.Sprintf("no confluence (bull %d, bear %d)", bullScore, bearScore)), nil
	}

	confidence := 50 + float64(score)*5
	if input.MarketCondition == "trending" {
		confidence += 5
	}
	if confidence > 95 {
		confidence = 95
	}

	strength := StrengthWeak
	if score >= 8 {
		strength = StrengthStrong
	} else if score >= 6 {
		strength = StrengthModerate
	}

	v := buildDirectionalVerdict(input, direction, confidence, strength, stopDistance(input, direction))
	v.Timeframe = "4h"
	v.Reasoning = strings.Join(reasons, "; ")
	v.Indicators = ind
	return v, nil
}

// stopDistance places the stop beyond the recent swing, with a volatility
// floor so quiet markets still get breathing room.
func stopDistance(input *Input, direction Direction) float64 {
	price := input.Ticker.Price

	dist := price * 0.03
	n := len(input.Candles)
	if n > 10 {
		n = 10
	}
	if n > 0 {
		recent := input.Candles[len(input.Candles)-n:]
		if direction == Long {
			low := recent[0].Low
			for _, c := range recent {
				if c.Low < low {
					low = c.Low
				}
			}
			if low > 0 && low < price {
				dist = price - low
			}
		} else {
			high := recent[0].High
			for _, c := range recent {
				if c.High > high {
					high = c.High
				}
			}
			if high > price {
				dist = high - price
			}
		}
	}

	if min := price * 0.01; dist < min {
		dist = min
	}
	if max := price * 0.08; dist > max {
		dist = max
	}
	return dist
}

// buildDirectionalVerdict derives the entry band, stop, and ladder of three
// targets from one risk distance. Targets satisfy t1<t2<t3 for LONG and the
// reverse for SHORT.
func buildDirectionalVerdict(input *Input, direction Direction, confidence float64, strength Strength, risk float64) *Verdict {
	price := input.Ticker.Price
	band := price * 0.002

	v := &Verdict{
		Symbol:     input.Ticker.Symbol,
		Direction:  direction,
		Confidence: confidence,
		Strength:   strength,
		EntryMin:   price - band,
		EntryMax:   price + band,
	}

	if direction == Long {
		v.StopLoss = price - risk
		v.Target1 = price + 1.5*risk
		v.Target2 = price + 2.5*risk
		v.Target3 = price + 4.0*risk
	} else {
		v.StopLoss = price + risk
		v.Target1 = price - 1.5*risk
		v.Target2 = price - 2.5*risk
		v.Target3 = price - 4.0*risk
	}

	if risk > 0 {
		// R/R taken at the middle target
		v.RiskReward = 2.5
	}
	return v
}
