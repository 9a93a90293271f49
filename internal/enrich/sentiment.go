package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/cache"
	"github.com/Subthedev/QuantumX-sub000/internal/logging"
)

// NeutralSentiment is the default when the index is unavailable
const NeutralSentiment = 50.0

// sentimentMemoTTL matches the index's update cadence
const sentimentMemoTTL = 5 * time.Minute

const sentimentMemoKey = "sentiment:fng"

// fngResponse is the Fear & Greed provider payload
type fngResponse struct {
	Data []struct {
		Value string `json:"value"`
	} `json:"data"`
}

// SentimentClient fetches the Fear & Greed index with a 5 minute memo.
// Failures return the neutral value; sentiment is advisory, never blocking.
type SentimentClient struct {
	url    string
	client *http.Client
	memo   *cache.Memo
	logger *logging.Logger
}

// NewSentimentClient creates the client
func NewSentimentClient(url string, memo *cache.Memo, logger *logging.Logger) *SentimentClient {
	return &SentimentClient{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		memo:   memo,
		logger: logger.WithComponent("sentiment"),
	}
}

// Fetch returns the current index value in [0,100]
func (s *SentimentClient) Fetch(ctx context.Context) float64 {
	if cached, ok := s.memo.Get(ctx, sentimentMemoKey); ok {
		if v, err := strconv.ParseFloat(cached, 64); err == nil {
			return v
		}
	}

	value, err := s.fetch(ctx)
	if err != nil {
		s.logger.Debug("Sentiment fetch failed, using neutral", "error", err)
		return NeutralSentiment
	}

	s.memo.Set(ctx, sentimentMemoKey, strconv.FormatFloat(value, 'f', 0, 64), sentimentMemoTTL)
	return value
}

func (s *SentimentClient) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("building sentiment request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching sentiment index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("sentiment provider returned %d", resp.StatusCode)
	}

	var payload fngResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decoding sentiment response: %w", err)
	}
	if len(payload.Data) == 0 {
		return 0, fmt.Errorf("sentiment response empty")
	}

	value, err := strconv.ParseFloat(payload.Data[0].Value, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing sentiment value %q: %w", payload.Data[0].Value, err)
	}
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("sentiment value %v out of range", value)
	}
	return value, nil
}
