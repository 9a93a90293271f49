package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/cache"
	"github.com/Subthedev/QuantumX-sub000/internal/logging"
)

// Neutral intel defaults applied when the hub is unconfigured or failing
const (
	NeutralFunding = 0.0
	NeutralNetflow = 0.0
	NeutralWhale   = 0.5
)

const intelMemoTTL = 2 * time.Minute

// IntelData carries the on-chain proxies and funding rate for one symbol
type IntelData struct {
	FundingRate     float64 `json:"funding_rate"`
	ExchangeNetflow float64 `json:"exchange_netflow"`
	WhaleActivity   float64 `json:"whale_activity"` // 0-1
}

// NeutralIntel is the all-defaults bundle
func NeutralIntel() IntelData {
	return IntelData{
		FundingRate:     NeutralFunding,
		ExchangeNetflow: NeutralNetflow,
		WhaleActivity:   NeutralWhale,
	}
}

// IntelClient queries the intelligence hub, best-effort. No configured URL
// means every call returns the neutral bundle.
type IntelClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	memo    *cache.Memo
	logger  *logging.Logger
}

// NewIntelClient creates the client; baseURL may be empty
func NewIntelClient(baseURL, apiKey string, memo *cache.Memo, logger *logging.Logger) *IntelClient {
	return &IntelClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 5 * time.Second},
		memo:    memo,
		logger:  logger.WithComponent("intel"),
	}
}

// Fetch returns the intel bundle for symbol, neutral on any failure
func (c *IntelClient) Fetch(ctx context.Context, symbol string) IntelData {
	if c.baseURL == "" {
		return NeutralIntel()
	}

	memoKey := "intel:" + symbol
	if cached, ok := c.memo.Get(ctx, memoKey); ok {
		var data IntelData
		if err := json.Unmarshal([]byte(cached), &data); err == nil {
			return data
		}
	}

	data, err := c.fetch(ctx, symbol)
	if err != nil {
		c.logger.Debug("Intel fetch failed, using neutral defaults",
			"symbol", symbol,
			"error", err)
		return NeutralIntel()
	}

	if raw, err := json.Marshal(data); err == nil {
		c.memo.Set(ctx, memoKey, string(raw), intelMemoTTL)
	}
	return data
}

func (c *IntelClient) fetch(ctx context.Context, symbol string) (IntelData, error) {
	data := NeutralIntel()

	u := fmt.Sprintf("%s?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return data, fmt.Errorf("building intel request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return data, fmt.Errorf("fetching intel for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return data, fmt.Errorf("intel hub returned %d for %s", resp.StatusCode, symbol)
	}

	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return NeutralIntel(), fmt.Errorf("decoding intel response for %s: %w", symbol, err)
	}
	return data, nil
}
