package enrich

import (
	"context"

	"github.com/Subthedev/QuantumX-sub000/internal/indicators"
	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/market"
	"github.com/Subthedev/QuantumX-sub000/internal/strategy"
)

// Enricher assembles the full strategy input bundle for one tick. Every
// upstream is best-effort except indicators, which are required: strategies
// without indicator data cannot do useful work.
type Enricher struct {
	cache      *indicators.Cache
	candles    *CandleStore
	sentiment  *SentimentClient
	intel      *IntelClient
	minCandles int
	logger     *logging.Logger
}

// NewEnricher creates the enricher
func NewEnricher(cache *indicators.Cache, candles *CandleStore, sentiment *SentimentClient, intel *IntelClient, minCandles int, logger *logging.Logger) *Enricher {
	if minCandles <= 0 {
		minCandles = 50
	}
	return &Enricher{
		cache:      cache,
		candles:    candles,
		sentiment:  sentiment,
		intel:      intel,
		minCandles: minCandles,
		logger:     logger.WithComponent("enrich"),
	}
}

// BuildInput assembles the bundle. Indicator data comes through the shared
// cache so the pre-computation pipeline's work is reused; a cache miss
// computes inline.
func (e *Enricher) BuildInput(ctx context.Context, t market.Ticker, condition string) (*strategy.Input, error) {
	candles, err := e.candles.Candles(ctx, t.Symbol)
	if err != nil {
		return nil, err
	}

	v, err := e.cache.GetOrCompute(indicators.SetKey(t.Symbol), indicators.DefaultTTL, func() (interface{}, error) {
		return indicators.PreCompute(e.cache, t.Symbol,
			market.Closes(candles), market.Volumes(candles),
			e.minCandles, indicators.DefaultTTL)
	})
	if err != nil {
		return nil, err
	}

	input := &strategy.Input{
		Ticker:          t,
		Candles:         candles,
		Indicators:      v.(*indicators.Set),
		Sentiment:       e.sentiment.Fetch(ctx),
		OrderBook:       bookMetrics(t),
		MarketCondition: condition,
	}

	intel := e.intel.Fetch(ctx, t.Symbol)
	input.FundingRate = intel.FundingRate
	input.ExchangeNetflow = intel.ExchangeNetflow
	input.WhaleActivity = intel.WhaleActivity

	return input, nil
}

// bookMetrics derives order-book proxies from ticker bid/ask alone. With no
// depth feed the spread is the only liquidity signal available.
func bookMetrics(t market.Ticker) strategy.OrderBookMetrics {
	m := strategy.OrderBookMetrics{Imbalance: 1.0, BuyPressure: 50, BidAskRatio: 1.0}
	if t.Bid <= 0 || t.Ask <= 0 {
		return m
	}

	imbalance := 1.0 + 0.1*t.SpreadPct()
	if imbalance < 0.5 {
		imbalance = 0.5
	}
	if imbalance > 2.0 {
		imbalance = 2.0
	}
	m.Imbalance = imbalance

	pressure := t.Bid / (t.Bid + t.Ask) * 100
	if pressure < 0 {
		pressure = 0
	}
	if pressure > 100 {
		pressure = 100
	}
	m.BuyPressure = pressure

	m.BidAskRatio = t.Bid / t.Ask
	return m
}
