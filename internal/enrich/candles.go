// Package enrich builds the strategy input bundle: candles, indicators,
// sentiment, intelligence-hub fields, and order-book proxies.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/market"
)

// candleRefresh is how long a fetched series stays fresh
const candleRefresh = 60 * time.Second

type candleSeries struct {
	candles   []market.Candle
	fetchedAt time.Time
}

// CandleStore fetches and caches per-symbol OHLC series from the external
// candle provider. It is the pipeline's indicators.CandleSource.
type CandleStore struct {
	urlPattern string // provider URL with one %s for the symbol
	client     *http.Client
	logger     *logging.Logger

	mu     sync.RWMutex
	series map[string]candleSeries
}

// NewCandleStore creates the store for the given provider URL pattern
func NewCandleStore(urlPattern string, logger *logging.Logger) *CandleStore {
	return &CandleStore{
		urlPattern: urlPattern,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.WithComponent("candles"),
		series:     make(map[string]candleSeries),
	}
}

// Candles returns the cached series for symbol, refreshing from the
// provider when stale. Invalid rows are dropped.
func (s *CandleStore) Candles(ctx context.Context, symbol string) ([]market.Candle, error) {
	s.mu.RLock()
	cached, ok := s.series[symbol]
	s.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < candleRefresh {
		return cached.candles, nil
	}

	candles, err := s.fetch(ctx, symbol)
	if err != nil {
		if ok {
			// Stale data beats no data for indicator warm-up
			return cached.candles, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.series[symbol] = candleSeries{candles: candles, fetchedAt: time.Now()}
	s.mu.Unlock()
	return candles, nil
}

// Series implements indicators.CandleSource
func (s *CandleStore) Series(ctx context.Context, symbol string) ([]float64, []float64, error) {
	candles, err := s.Candles(ctx, symbol)
	if err != nil {
		return nil, nil, err
	}
	return market.Closes(candles), market.Volumes(candles), nil
}

// fetch pulls one series. The provider returns rows of
// [ts, open, high, low, close] with an optional trailing volume.
func (s *CandleStore) fetch(ctx context.Context, symbol string) ([]market.Candle, error) {
	url := fmt.Sprintf(s.urlPattern, symbol) + "?vs_currency=usd&days=1"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building candle request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching candles for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candle provider returned %d for %s", resp.StatusCode, symbol)
	}

	var rows [][]float64
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding candles for %s: %w", symbol, err)
	}

	candles := make([]market.Candle, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		if len(row) < 5 {
			dropped++
			continue
		}
		c := market.Candle{
			OpenTime: int64(row[0]),
			Open:     row[1],
			High:     row[2],
			Low:      row[3],
			Close:    row[4],
		}
		if len(row) > 5 {
			c.Volume = row[5]
		}
		if !c.Valid() {
			dropped++
			continue
		}
		candles = append(candles, c)
	}

	if dropped > 0 {
		s.logger.Debug("Dropped invalid candle rows", "symbol", symbol, "dropped", dropped)
	}
	return candles, nil
}
