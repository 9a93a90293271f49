package indicators

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
)

// Set is the standard per-symbol indicator snapshot shared by enrichment
// and the strategy bank.
type Set struct {
	Symbol     string          `json:"symbol"`
	RSI        float64         `json:"rsi"`
	MACD       MACDResult      `json:"macd"`
	Bollinger  BollingerResult `json:"bollinger"`
	EMA20      float64         `json:"ema_20"`
	EMA50      float64         `json:"ema_50"`
	EMA100     float64         `json:"ema_100"`
	EMA200     float64         `json:"ema_200"`
	Volume     VolumeSummary   `json:"volume"`
	Samples    int             `json:"samples"`
	ComputedAt int64           `json:"computed_at"` // ms UTC
}

// SetKey is the cache key for a symbol's assembled indicator snapshot
func SetKey(symbol string) string { return "ind:" + symbol }

// PreCompute evaluates RSI(14), MACD(12,26,9), EMAs 20/50/100/200,
// Bollinger(20,2) and the volume summary in parallel, stores each result
// under its canonical per-symbol key plus the assembled snapshot, and
// returns the snapshot. Errors below minCandles samples; callers treat
// that as a skip, not a pipeline failure.
func PreCompute(cache *Cache, symbol string, closes, volumes []float64, minCandles int, ttl time.Duration) (*Set, error) {
	if len(closes) < minCandles {
		return nil, fmt.Errorf("%s: %d candles, need %d", symbol, len(closes), minCandles)
	}

	set := &Set{Symbol: symbol, Samples: len(closes)}

	var wg sync.WaitGroup
	run := func(key string, f func() interface{}, store func(interface{})) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := f()
			cache.Set(key+":"+symbol, v, ttl)
			store(v)
		}()
	}

	run("rsi14", func() interface{} { return RSI(closes, 14) }, func(v interface{}) { set.RSI = v.(float64) })
	run("macd", func() interface{} { return MACD(closes) }, func(v interface{}) { set.MACD = v.(MACDResult) })
	run("ema20", func() interface{} { return EMA(closes, 20) }, func(v interface{}) { set.EMA20 = v.(float64) })
	run("ema50", func() interface{} { return EMA(closes, 50) }, func(v interface{}) { set.EMA50 = v.(float64) })
	run("ema100", func() interface{} { return EMA(closes, 100) }, func(v interface{}) { set.EMA100 = v.(float64) })
	run("ema200", func() interface{} { return EMA(closes, 200) }, func(v interface{}) { set.EMA200 = v.(float64) })
	run("boll20", func() interface{} { return Bollinger(closes, 20, 2.0) }, func(v interface{}) { set.Bollinger = v.(BollingerResult) })
	run("volume", func() interface{} { return Volume(volumes) }, func(v interface{}) { set.Volume = v.(VolumeSummary) })
	wg.Wait()

	set.ComputedAt = time.Now().UnixMilli()
	cache.Set(SetKey(symbol), set, ttl)
	return set, nil
}

// CandleSource supplies close/volume series for the pre-computation pipeline
type CandleSource interface {
	Series(ctx context.Context, symbol string) (closes, volumes []float64, err error)
}

// TierSource reports each symbol's current attention tier (1..3)
type TierSource interface {
	TierOf(symbol string) int
}

// PrecomputerConfig tunes the background pipeline
type PrecomputerConfig struct {
	Interval     time.Duration // full cycle cadence, default 30s
	BatchSize    int           // symbols per batch, default 5
	InterBatch   time.Duration // yield between batches, default 100ms
	HotSymbolCap int           // tracked hot set size, default 20
	MinCandles   int           // minimum series length, default 50
	TTL          time.Duration // cache TTL for warmed sets
}

func (c *PrecomputerConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.InterBatch <= 0 {
		c.InterBatch = 100 * time.Millisecond
	}
	if c.HotSymbolCap <= 0 {
		c.HotSymbolCap = 20
	}
	if c.MinCandles <= 0 {
		c.MinCandles = 50
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
}

type hotSymbol struct {
	priority int
	lastSeen time.Time
}

// Precomputer keeps indicator snapshots warm for the hottest symbols so
// trigger evaluation never pays the compute cost on the hot path.
type Precomputer struct {
	cfg     PrecomputerConfig
	cache   *Cache
	candles CandleSource
	tiers   TierSource
	logger  *logging.Logger

	mu  sync.Mutex
	hot map[string]*hotSymbol

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	computed uint64
	skipped  uint64
}

// NewPrecomputer creates the pipeline; tiers may be nil before the tier
// manager is wired, in which case no tier boost applies.
func NewPrecomputer(cfg PrecomputerConfig, cache *Cache, candles CandleSource, tiers TierSource, logger *logging.Logger) *Precomputer {
	cfg.defaults()
	return &Precomputer{
		cfg:     cfg,
		cache:   cache,
		candles: candles,
		tiers:   tiers,
		logger:  logger.WithComponent("precompute"),
		hot:     make(map[string]*hotSymbol),
	}
}

// Touch records activity for a symbol with the given base priority. Higher
// priorities win the hot-set slots; the set is pruned back to the cap once
// it grows past 1.5x.
func (p *Precomputer) Touch(symbol string, priority int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.hot[symbol]; ok {
		if priority > h.priority {
			h.priority = priority
		}
		h.lastSeen = time.Now()
	} else {
		p.hot[symbol] = &hotSymbol{priority: priority, lastSeen: time.Now()}
	}

	if len(p.hot) > p.cfg.HotSymbolCap+p.cfg.HotSymbolCap/2 {
		p.pruneLocked()
	}
}

// ComputeNow warms one symbol immediately, outside the cycle cadence, and
// marks it high priority for subsequent cycles.
func (p *Precomputer) ComputeNow(ctx context.Context, symbol string) (*Set, error) {
	p.Touch(symbol, 90)
	return p.computeOne(ctx, symbol)
}

// Start launches the background cycle. Idempotent.
func (p *Precomputer) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)
	p.logger.Info("Indicator pre-computation started",
		"interval", p.cfg.Interval.String(),
		"batch_size", p.cfg.BatchSize,
		"hot_cap", p.cfg.HotSymbolCap)
}

// Stop halts the background cycle and waits for it to drain. Idempotent.
func (p *Precomputer) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Indicator pre-computation stopped")
}

// HotSymbols returns the current hot set ordered by effective priority,
// highest first, capped at the configured size.
func (p *Precomputer) HotSymbols() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rankedLocked()
}

// Stats reports pipeline counters
func (p *Precomputer) Stats() (computed, skipped uint64, tracked int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.computed, p.skipped, len(p.hot)
}

func (p *Precomputer) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

func (p *Precomputer) runCycle(ctx context.Context) {
	symbols := p.HotSymbols()
	if len(symbols) == 0 {
		return
	}

	start := time.Now()
	var done, missed atomic.Int64
	for i := 0; i < len(symbols); i += p.cfg.BatchSize {
		end := i + p.cfg.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		var wg sync.WaitGroup
		for _, sym := range symbols[i:end] {
			wg.Add(1)
			go func(sym string) {
				defer wg.Done()
				if _, err := p.computeOne(ctx, sym); err != nil {
					p.logger.Debug("Pre-compute skipped", "symbol", sym, "reason", err.Error())
					missed.Add(1)
				} else {
					done.Add(1)
				}
			}(sym)
		}
		wg.Wait()

		if end < len(symbols) {
			select {
			case <-ctx.Done():
				return
			case <-p.stopChan:
				return
			case <-time.After(p.cfg.InterBatch):
			}
		}
	}

	p.logger.Debug("Pre-compute cycle finished",
		"symbols", len(symbols),
		"computed", done.Load(),
		"skipped", missed.Load(),
		"elapsed", time.Since(start).String())
}

func (p *Precomputer) computeOne(ctx context.Context, symbol string) (*Set, error) {
	v, err := p.cache.GetOrCompute(SetKey(symbol), p.cfg.TTL, func() (interface{}, error) {
		closes, volumes, err := p.candles.Series(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return PreCompute(p.cache, symbol, closes, volumes, p.cfg.MinCandles, p.cfg.TTL)
	})
	p.mu.Lock()
	if err != nil {
		p.skipped++
	} else {
		p.computed++
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return v.(*Set), nil
}

// rankedLocked orders the hot set by base priority plus tier boost
// (tier 3 +50, tier 2 +25) and returns the top slice. Caller holds mu.
func (p *Precomputer) rankedLocked() []string {
	type ranked struct {
		symbol string
		score  int
	}

	list := make([]ranked, 0, len(p.hot))
	for sym, h := range p.hot {
		score := h.priority
		if p.tiers != nil {
			switch p.tiers.TierOf(sym) {
			case 3:
				score += 50
			case 2:
				score += 25
			}
		}
		list = append(list, ranked{symbol: sym, score: score})
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].symbol < list[j].symbol
	})

	n := len(list)
	if n > p.cfg.HotSymbolCap {
		n = p.cfg.HotSymbolCap
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = list[i].symbol
	}
	return out
}

// pruneLocked drops the lowest-ranked entries back to the cap. Caller holds mu.
func (p *Precomputer) pruneLocked() {
	keep := p.rankedLocked()
	kept := make(map[string]bool, len(keep))
	for _, s := range keep {
		kept[s] = true
	}
	for sym := range p.hot {
		if !kept[sym] {
			delete(p.hot, sym)
		}
	}
}
