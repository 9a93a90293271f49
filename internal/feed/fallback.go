package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/market"
)

// chunkSize bounds how many ids go into one listing request
const chunkSize = 10

// listingRow is the market-listing provider's per-asset payload
type listingRow struct {
	ID             string  `json:"id"`
	CurrentPrice   float64 `json:"current_price"`
	High24h        float64 `json:"high_24h"`
	Low24h         float64 `json:"low_24h"`
	TotalVolume    float64 `json:"total_volume"`
	PriceChange24h float64 `json:"price_change_24h"`
	PriceChgPct24h float64 `json:"price_change_percentage_24h"`
	LastUpdated    string  `json:"last_updated"`
}

// FallbackConfig tunes the HTTP poller
type FallbackConfig struct {
	ListingURL    string
	PollInterval  time.Duration // default 5s
	StaleAfter    time.Duration // default 30s
	RequestGap    time.Duration // pause between provider requests, default 100ms
	BootstrapTopN int           // default 30
}

func (c *FallbackConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Second
	}
	if c.RequestGap <= 0 {
		c.RequestGap = 100 * time.Millisecond
	}
	if c.BootstrapTopN <= 0 {
		c.BootstrapTopN = 30
	}
}

// FallbackPoller covers the gaps the streams leave: symbols with no stream
// mapping and symbols whose stream updates have gone stale. Its ticks are
// capped at MEDIUM quality.
type FallbackPoller struct {
	cfg    FallbackConfig
	client *http.Client
	logger *logging.Logger

	symbols []string                            // canonical ids to watch
	stale   func([]string, time.Duration) []string
	emit    func(market.Ticker)

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup

	polls    uint64
	failures uint64
}

// NewFallbackPoller creates the poller. stale filters the watched symbols
// down to the ones actually needing a poll; the aggregator provides it.
func NewFallbackPoller(cfg FallbackConfig, symbols []string, stale func([]string, time.Duration) []string, emit func(market.Ticker), logger *logging.Logger) *FallbackPoller {
	cfg.defaults()
	return &FallbackPoller{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.WithComponent("fallback"),
		symbols: symbols,
		stale:   stale,
		emit:    emit,
	}
}

// Start launches the poll loop. Idempotent.
func (p *FallbackPoller) Start() {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop()
	p.logger.Info("HTTP fallback started",
		"interval", p.cfg.PollInterval.String(),
		"stale_after", p.cfg.StaleAfter.String(),
		"symbols", len(p.symbols))
}

// Stop halts the poll loop. Idempotent.
func (p *FallbackPoller) Stop() {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("HTTP fallback stopped")
}

func (p *FallbackPoller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

// pollOnce fetches every currently-stale symbol in provider-sized chunks
// with a gap between requests. Failures are logged and skipped; the loop
// never stops on provider errors.
func (p *FallbackPoller) pollOnce() {
	need := p.stale(p.symbols, p.cfg.StaleAfter)
	if len(need) == 0 {
		return
	}

	p.mu.Lock()
	p.polls++
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PollInterval)
	defer cancel()

	for i := 0; i < len(need); i += chunkSize {
		end := i + chunkSize
		if end > len(need) {
			end = len(need)
		}

		rows, err := p.fetchListing(ctx, need[i:end], 0)
		if err != nil {
			p.mu.Lock()
			p.failures++
			p.mu.Unlock()
			p.logger.Warn("Fallback poll failed",
				"symbols", len(need[i:end]),
				"error", err)
		} else {
			for _, row := range rows {
				p.emit(p.toTicker(row))
			}
		}

		if end < len(need) {
			select {
			case <-p.stopChan:
				return
			case <-time.After(p.cfg.RequestGap):
			}
		}
	}
}

// TopSymbols fetches the top-N market-cap asset ids for bootstrap when no
// monitored set is configured.
func (p *FallbackPoller) TopSymbols(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		n = p.cfg.BootstrapTopN
	}
	rows, err := p.fetchListing(ctx, nil, n)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// fetchListing queries the listing endpoint, either for explicit ids or for
// the top-N by market cap.
func (p *FallbackPoller) fetchListing(ctx context.Context, ids []string, topN int) ([]listingRow, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	if len(ids) > 0 {
		q.Set("ids", strings.Join(ids, ","))
		q.Set("per_page", fmt.Sprintf("%d", len(ids)))
	} else {
		q.Set("order", "market_cap_desc")
		q.Set("per_page", fmt.Sprintf("%d", topN))
		q.Set("page", "1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.ListingURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building listing request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing provider returned %d", resp.StatusCode)
	}

	var rows []listingRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding listing response: %w", err)
	}
	return rows, nil
}

func (p *FallbackPoller) toTicker(row listingRow) market.Ticker {
	now := time.Now().UnixMilli()
	sourceTs := now
	if ts, err := time.Parse(time.RFC3339, row.LastUpdated); err == nil {
		sourceTs = ts.UnixMilli()
	}

	return market.Ticker{
		Symbol:         row.ID,
		Source:         market.ExchangeFallback,
		Price:          row.CurrentPrice,
		QuoteVolume24h: row.TotalVolume,
		Change24h:      row.PriceChange24h,
		ChangePct24h:   row.PriceChgPct24h,
		High24h:        row.High24h,
		Low24h:         row.Low24h,
		SourceTs:       sourceTs,
		ReceivedTs:     now,
		Quality:        market.QualityMedium,
	}
}

// Stats reports poll counters
func (p *FallbackPoller) Stats() (polls, failures uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls, p.failures
}
