package strategy

import (
	"context"
	"fmt"
)

// ReversionStrategy fades moves that stretch past the Bollinger envelope
// with an exhausted RSI. It sits out trending and chaotic tape.
type ReversionStrategy struct {
	minConfidence float64
}

// NewReversionStrategy creates the strategy; minConfidence 0 uses the default
func NewReversionStrategy(minConfidence float64) *ReversionStrategy {
	return &ReversionStrategy{minConfidence: minConfidence}
}

func (s *ReversionStrategy) Name() string { return "BAND_REVERSION" }

func (s *ReversionStrategy) MinConfidence() float64 { return s.minConfidence }

func (s *ReversionStrategy) Evaluate(ctx context.Context, input *Input) (*Verdict, error) {
	ind := input.Indicators
	if ind == nil {
		return Reject(input.Ticker.Symbol, s.Name(), "no indicator data"), nil
	}
	if ind.Bollinger.Middle == 0 {
		return Reject(input.Ticker.Symbol, s.Name(), "bands not formed"), nil
	}
	if input.MarketCondition == "volatile" {
		return Reject(input.Ticker.Symbol, s.Name(), "volatile tape, no mean reversion"), nil
	}

	price := input.Ticker.Price
	bands := ind.Bollinger

	var direction Direction
	var stretch float64 // how far past the band, as a fraction of band width

	width := bands.Upper - bands.Lower
	if width <= 0 {
		return Reject(input.Ticker.Symbol, s.Name(), "degenerate bands"), nil
	}

	switch {
	case price <= bands.Lower && ind.RSI < 32:
		direction = Long
		stretch = (bands.Lower - price) / width
	case price >= bands.Upper && ind.RSI > 68:
		direction = Short
		stretch = (price - bands.Upper) / width
	default:
		return Reject(input.Ticker.Symbol, s.Name(), "price inside bands or RSI not exhausted"), nil
	}

	confidence := 62 + stretch*100
	if input.MarketCondition == "ranging" {
		confidence += 6
	}
	if confidence > 90 {
		confidence = 90
	}

	strength := StrengthWeak
	if confidence >= 80 {
		strength = StrengthModerate
	}

	// Risk to just beyond the band extreme; target the middle band
	var risk float64
	if direction == Long {
		risk = price - (bands.Lower - width*0.15)
	} else {
		risk = (bands.Upper + width*0.15) - price
	}
	if min := price * 0.005; risk < min {
		risk = min
	}

	v := buildDirectionalVerdict(input, direction, confidence, strength, risk)
	v.Timeframe = "1h"
	v.Reasoning = fmt.Sprintf("price stretched %.0f%% of band width past the %s band with RSI %.1f",
		stretch*100, map[Direction]string{Long: "lower", Short: "upper"}[direction], ind.RSI)
	v.Indicators = ind
	return v, nil
}
