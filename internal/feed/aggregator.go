// Package feed combines the exchange streams and the HTTP fallback into a
// single deduplicated tick flow for the orchestrator.
package feed

import (
	"fmt"
	"sync"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/events"
	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/market"
	"github.com/Subthedev/QuantumX-sub000/internal/stream"
)

// ingestBuffer bounds the ingestion channel; a full buffer drops the tick
// rather than blocking a source's read loop.
const ingestBuffer = 1024

// latencyWindow is the rolling average sample count
const latencyWindow = 100

// healthInterval is the health beat cadence
const healthInterval = 10 * time.Second

// LastPrice is the most recent accepted tick summary for one symbol
type LastPrice struct {
	Price  float64         `json:"price"`
	Ts     int64           `json:"ts"`
	Source market.Exchange `json:"source"`
}

// Stats is a point-in-time aggregator snapshot
type Stats struct {
	TotalTicks     uint64                            `json:"total_ticks"`
	Duplicates     uint64                            `json:"duplicates"`
	Dropped        uint64                            `json:"dropped"`
	Stale          uint64                            `json:"stale"`
	AvgLatencyMs   float64                           `json:"avg_latency_ms"`
	ActiveSources  int                               `json:"active_sources"`
	SourceStatus   map[market.Exchange]stream.Status `json:"source_status"`
	Healthy        bool                              `json:"healthy"`
	LastTickAgeSec float64                           `json:"last_tick_age_sec"`
}

// Config tunes the aggregator
type Config struct {
	DedupWindow time.Duration // duplicate suppression window, default 1s
}

// Aggregator owns the multi-source tick flow: deduplication, latency
// accounting, last-price tracking, and the periodic health beat.
type Aggregator struct {
	cfg    Config
	bus    *events.Bus
	logger *logging.Logger

	in      chan market.Ticker
	sources []stream.Source
	emit    func(market.Ticker)

	mu           sync.RWMutex
	dedup        map[string]int64 // symbol:bucket -> wall-clock ms
	lastPrice    map[string]LastPrice
	lastBySource map[string]int64 // symbol:source -> last accepted SourceTs
	sourceStatus map[market.Exchange]stream.Status
	latencies    []int64
	latencyIdx   int
	lastTickMs   int64

	totalTicks uint64
	duplicates uint64
	dropped    uint64
	stale      uint64

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	now func() time.Time
}

// NewAggregator creates an aggregator delivering accepted ticks to emit
func NewAggregator(cfg Config, bus *events.Bus, logger *logging.Logger, emit func(market.Ticker)) *Aggregator {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Second
	}
	return &Aggregator{
		cfg:          cfg,
		bus:          bus,
		logger:       logger.WithComponent("aggregator"),
		in:           make(chan market.Ticker, ingestBuffer),
		dedup:        make(map[string]int64),
		lastPrice:    make(map[string]LastPrice),
		lastBySource: make(map[string]int64),
		sourceStatus: make(map[market.Exchange]stream.Status),
		emit:         emit,
		now:          time.Now,
	}
}

// AddSource registers a stream source started and stopped with the aggregator
func (a *Aggregator) AddSource(s stream.Source) {
	a.sources = append(a.sources, s)
	a.mu.Lock()
	a.sourceStatus[s.Exchange()] = s.Status()
	a.mu.Unlock()
}

// Ingest accepts one tick from any source. Never blocks; a full buffer
// drops the tick and bumps the drop counter.
func (a *Aggregator) Ingest(t market.Ticker) {
	select {
	case a.in <- t:
	default:
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
	}
}

// SetSourceStatus records a source status transition
func (a *Aggregator) SetSourceStatus(source market.Exchange, status stream.Status) {
	a.mu.Lock()
	a.sourceStatus[source] = status
	a.mu.Unlock()
	a.logger.Info("Source status changed", "source", string(source), "status", string(status))
}

// Start launches the processing loop, the health beat, and every registered
// source. Idempotent.
func (a *Aggregator) Start() error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.stopChan = make(chan struct{})
	a.mu.Unlock()

	for _, s := range a.sources {
		if err := s.Start(); err != nil {
			return fmt.Errorf("starting %s source: %w", s.Exchange(), err)
		}
	}

	a.wg.Add(2)
	go a.processLoop()
	go a.healthLoop()

	a.logger.Info("Aggregator started", "sources", len(a.sources))
	return nil
}

// Stop halts the sources and loops. Idempotent.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stopChan)
	a.mu.Unlock()

	for _, s := range a.sources {
		s.Stop()
	}
	a.wg.Wait()
	a.logger.Info("Aggregator stopped")
}

// Last returns the most recent accepted tick summary for a symbol
func (a *Aggregator) Last(symbol string) (LastPrice, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	lp, ok := a.lastPrice[symbol]
	return lp, ok
}

// StaleSymbols returns the given symbols whose last accepted update is
// older than maxAge, including symbols never seen at all.
func (a *Aggregator) StaleSymbols(symbols []string, maxAge time.Duration) []string {
	cutoff := a.now().Add(-maxAge).UnixMilli()

	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []string
	for _, sym := range symbols {
		lp, ok := a.lastPrice[sym]
		if !ok || lp.Ts < cutoff {
			out = append(out, sym)
		}
	}
	return out
}

// Stats returns the aggregator snapshot used by the health beat and the API
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.statsLocked()
}

func (a *Aggregator) statsLocked() Stats {
	st := Stats{
		TotalTicks:   a.totalTicks,
		Duplicates:   a.duplicates,
		Dropped:      a.dropped,
		Stale:        a.stale,
		SourceStatus: make(map[market.Exchange]stream.Status, len(a.sourceStatus)),
	}

	for src, status := range a.sourceStatus {
		st.SourceStatus[src] = status
		if status == stream.StatusConnected {
			st.ActiveSources++
		}
	}

	if len(a.latencies) > 0 {
		var sum int64
		for _, l := range a.latencies {
			sum += l
		}
		st.AvgLatencyMs = float64(sum) / float64(len(a.latencies))
	}

	if a.lastTickMs > 0 {
		st.LastTickAgeSec = float64(a.now().UnixMilli()-a.lastTickMs) / 1000.0
	}
	st.Healthy = st.ActiveSources > 0 && a.lastTickMs > 0 && st.LastTickAgeSec <= 60
	return st
}

func (a *Aggregator) processLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stopChan:
			return
		case t := <-a.in:
			if a.accept(t) {
				a.emit(t)
			}
		}
	}
}

// accept applies latency accounting, deduplication, and the monotonicity
// guard, then records the last price.
func (a *Aggregator) accept(t market.Ticker) bool {
	nowMs := a.now().UnixMilli()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalTicks++
	a.lastTickMs = nowMs

	latency := nowMs - t.SourceTs
	if latency < 0 {
		latency = 0
	}
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, latency)
	} else {
		a.latencies[a.latencyIdx] = latency
		a.latencyIdx = (a.latencyIdx + 1) % latencyWindow
	}

	// Non-monotonic source timestamps carry no new information. The
	// watermark is per (symbol, source) so an interleaved tick from another
	// source never resets a source's ordering guarantee.
	sourceKey := t.Symbol + ":" + string(t.Source)
	if wm, ok := a.lastBySource[sourceKey]; ok && t.SourceTs <= wm {
		a.stale++
		return false
	}

	key := fmt.Sprintf("%s:%d", t.Symbol, t.SourceTs/1000)
	if seenAt, ok := a.dedup[key]; ok && nowMs-seenAt < a.cfg.DedupWindow.Milliseconds() {
		a.duplicates++
		return false
	}
	a.dedup[key] = nowMs

	// Bounded: prune entries older than the window once the map grows
	if len(a.dedup) > 4*ingestBuffer {
		cutoff := nowMs - a.cfg.DedupWindow.Milliseconds()
		for k, ts := range a.dedup {
			if ts < cutoff {
				delete(a.dedup, k)
			}
		}
	}

	a.lastBySource[sourceKey] = t.SourceTs
	a.lastPrice[t.Symbol] = LastPrice{Price: t.Price, Ts: t.SourceTs, Source: t.Source}
	return true
}

func (a *Aggregator) healthLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			a.publishHealth()
		}
	}
}

func (a *Aggregator) publishHealth() {
	st := a.Stats()

	statuses := make(map[string]interface{}, len(st.SourceStatus))
	for src, status := range st.SourceStatus {
		statuses[string(src)] = string(status)
	}

	a.bus.PublishDataHealth(map[string]interface{}{
		"healthy":        st.Healthy,
		"sources":        statuses,
		"active_sources": st.ActiveSources,
		"total_ticks":    st.TotalTicks,
		"duplicates":     st.Duplicates,
		"dropped":        st.Dropped,
		"avg_latency_ms": st.AvgLatencyMs,
		"last_tick_age":  st.LastTickAgeSec,
	})

	if !st.Healthy {
		a.logger.Warn("Data feed unhealthy",
			"active_sources", st.ActiveSources,
			"last_tick_age_sec", st.LastTickAgeSec)
	}
}
