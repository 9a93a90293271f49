// Package engine is the orchestrator: it runs the per-tick pipeline from
// anomaly scoring through tier gating, trigger predicates, significance
// filtering, enrichment, strategy fan-out, and winner selection.
package engine

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/detect"
	"github.com/Subthedev/QuantumX-sub000/internal/enrich"
	"github.com/Subthedev/QuantumX-sub000/internal/events"
	"github.com/Subthedev/QuantumX-sub000/internal/indicators"
	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/market"
	"github.com/Subthedev/QuantumX-sub000/internal/selector"
	"github.com/Subthedev/QuantumX-sub000/internal/strategy"
	"github.com/Subthedev/QuantumX-sub000/internal/tier"
)

// recentSignalCap bounds the in-memory recent-signals ring served by the API
const recentSignalCap = 100

// heartbeatInterval is the engine liveness beat cadence
const heartbeatInterval = 10 * time.Second

// Config tunes the orchestrator
type Config struct {
	Cooldown         time.Duration // per-symbol significant-trigger cooldown, default 30s
	SignalDedup      time.Duration // per-symbol signal bucket, default 2h
	PendingBound     int           // per-symbol pending tick queue, default 8
	NoiseLogThrottle time.Duration // throttled noise logging, default 5m
	EmaAlpha         float64       // baseline smoothing for spread/volume, default 0.1
}

func (c *Config) defaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.SignalDedup <= 0 {
		c.SignalDedup = 2 * time.Hour
	}
	if c.PendingBound <= 0 {
		c.PendingBound = 8
	}
	if c.NoiseLogThrottle <= 0 {
		c.NoiseLogThrottle = 5 * time.Minute
	}
	if c.EmaAlpha <= 0 {
		c.EmaAlpha = 0.1
	}
}

// Counters is the engine's public counter snapshot
type Counters struct {
	TicksProcessed   uint64 `json:"ticks_processed"`
	TicksDropped     uint64 `json:"ticks_dropped"` // back-pressure drops
	TriggersFired    uint64 `json:"triggers_fired"`
	NoiseDropped     uint64 `json:"noise_dropped"`
	CooldownDropped  uint64 `json:"cooldown_dropped"`
	SignalsGenerated uint64 `json:"signals_generated"`
	SignalsRejected  uint64 `json:"signals_rejected"`
	DedupDropped     uint64 `json:"dedup_dropped"`
	Unpersisted      uint64 `json:"unpersisted"`
}

// symbolState is the per-symbol rolling state exclusively owned by that
// symbol's worker goroutine (except the cross-cutting snapshot reads).
type symbolState struct {
	lastPrice        float64
	lastSourceTs     int64
	avgSpreadPct     float64
	avgVolume        float64
	lastTrigger      time.Time
	lastSignalBucket int64
	lastNoiseLog     time.Time
}

// Engine wires the detection, gating, enrichment, and selection layers
// behind per-symbol workers fed by the aggregator.
type Engine struct {
	cfg    Config
	logger *logging.Logger
	bus    *events.Bus

	normalizer *market.Normalizer
	detector   *detect.AnomalyDetector
	regimes    *detect.RegimeTracker
	tiers      *tier.Manager
	filter     *detect.SignificanceFilter
	enricher   *enrich.Enricher
	dispatcher *strategy.Dispatcher
	selector   *selector.Selector
	reputation *selector.Reputation
	precompute *indicators.Precomputer
	sink       Sink

	mu       sync.Mutex
	workers  map[string]chan market.Ticker
	state    map[string]*symbolState
	recent   []*SignalRecord
	counters Counters
	running  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// Deps collects the engine's collaborators
type Deps struct {
	Bus        *events.Bus
	Normalizer *market.Normalizer
	Detector   *detect.AnomalyDetector
	Regimes    *detect.RegimeTracker
	Tiers      *tier.Manager
	Filter     *detect.SignificanceFilter
	Enricher   *enrich.Enricher
	Dispatcher *strategy.Dispatcher
	Selector   *selector.Selector
	Reputation *selector.Reputation
	Precompute *indicators.Precomputer
	Sink       Sink
}

// New creates the engine
func New(cfg Config, deps Deps, logger *logging.Logger) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:        cfg,
		logger:     logger.WithComponent("engine"),
		bus:        deps.Bus,
		normalizer: deps.Normalizer,
		detector:   deps.Detector,
		regimes:    deps.Regimes,
		tiers:      deps.Tiers,
		filter:     deps.Filter,
		enricher:   deps.Enricher,
		dispatcher: deps.Dispatcher,
		selector:   deps.Selector,
		reputation: deps.Reputation,
		precompute: deps.Precompute,
		sink:       deps.Sink,
		workers:    make(map[string]chan market.Ticker),
		state:      make(map[string]*symbolState),
		now:        time.Now,
	}
}

// Start launches the heartbeat and accepts ticks. Idempotent.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	e.wg.Add(1)
	go e.heartbeatLoop()
	e.logger.Info("Signal engine started",
		"cooldown", e.cfg.Cooldown.String(),
		"signal_dedup", e.cfg.SignalDedup.String(),
		"strategies", e.dispatcher.Strategies())
}

// Stop cancels the workers and heartbeat and drains them. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	for _, ch := range e.workers {
		close(ch)
	}
	e.workers = make(map[string]chan market.Ticker)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("Signal engine stopped")
}

// HandleTick is the aggregator's downstream consumer. It routes the tick to
// the symbol's worker, creating it lazily; a full queue drops the tick,
// which is safe because strategies act on latest state only.
func (e *Engine) HandleTick(t market.Ticker) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	ch, ok := e.workers[t.Symbol]
	if !ok {
		ch = make(chan market.Ticker, e.cfg.PendingBound)
		e.workers[t.Symbol] = ch
		e.wg.Add(1)
		go e.workerLoop(ch)
	}
	e.mu.Unlock()

	select {
	case ch <- t:
	default:
		e.mu.Lock()
		e.counters.TicksDropped++
		e.mu.Unlock()
	}
}

// Counters returns a copy of the counter block
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// RecentSignals returns up to n of the latest emitted signals, newest first
func (e *Engine) RecentSignals(n int) []*SignalRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.recent) {
		n = len(e.recent)
	}
	out := make([]*SignalRecord, n)
	for i := 0; i < n; i++ {
		out[i] = e.recent[len(e.recent)-1-i]
	}
	return out
}

func (e *Engine) workerLoop(ch chan market.Ticker) {
	defer e.wg.Done()
	for t := range ch {
		e.process(t)
	}
}

// process runs the full per-tick pipeline. It executes sequentially per
// symbol; concurrency exists only across symbols.
func (e *Engine) process(raw market.Ticker) {
	t, res := e.normalizer.Normalize(raw)
	if !res.Valid {
		e.logger.Warn("Tick rejected by normalizer",
			"symbol", raw.Symbol,
			"errors", res.Errors)
		return
	}

	e.mu.Lock()
	e.counters.TicksProcessed++
	s, ok := e.state[t.Symbol]
	if !ok {
		s = &symbolState{}
		e.state[t.Symbol] = s
	}
	e.mu.Unlock()

	assessment := e.detector.Check(t)

	// Volatility window update and regime transition
	var pctChange float64
	if s.lastPrice > 0 {
		pctChange = (t.Price - s.lastPrice) / s.lastPrice * 100
		if change := e.regimes.Observe(t.Symbol, math.Abs(pctChange)); change != nil {
			e.publishRegimeChange(change)
		}
	}

	var dtSec float64
	if s.lastSourceTs > 0 && t.SourceTs > s.lastSourceTs {
		dtSec = float64(t.SourceTs-s.lastSourceTs) / 1000.0
	}

	spreadPct := t.SpreadPct()
	prevAvgSpread := s.avgSpreadPct
	prevAvgVolume := s.avgVolume

	s.lastPrice = t.Price
	s.lastSourceTs = t.SourceTs
	if spreadPct > 0 {
		if s.avgSpreadPct == 0 {
			s.avgSpreadPct = spreadPct
		} else {
			s.avgSpreadPct += e.cfg.EmaAlpha * (spreadPct - s.avgSpreadPct)
		}
	}
	if t.QuoteVolume24h > 0 {
		if s.avgVolume == 0 {
			s.avgVolume = t.QuoteVolume24h
		} else {
			s.avgVolume += e.cfg.EmaAlpha * (t.QuoteVolume24h - s.avgVolume)
		}
	}

	e.tiers.RecordAnomaly(t.Symbol, assessment.Severity)

	// CRITICAL/HIGH anomalies are never starved by the tier cadence
	forced := assessment.Severity >= detect.SeverityMedium
	if !forced && !e.tiers.ShouldCheck(t.Symbol) {
		return
	}

	e.precompute.Touch(t.Symbol, 10)

	// Trigger predicates against the regime-scaled thresholds
	th := e.regimes.ThresholdsFor(t.Symbol)

	var reasons []string
	absPct := math.Abs(pctChange)
	if absPct >= th.PriceChangePct && absPct > 0 {
		reasons = append(reasons, "price_change")
	}
	velocity := 0.0
	if dtSec > 0 {
		velocity = absPct / dtSec
		if velocity >= th.VelocityPctPerSec {
			reasons = append(reasons, "velocity")
		}
	}
	spreadRatio := 0.0
	if prevAvgSpread > 0 && spreadPct > 0 {
		spreadRatio = spreadPct / prevAvgSpread
		if spreadRatio >= th.SpreadWideningRatio {
			reasons = append(reasons, "spread_widening")
		}
	}
	volumeRatio := 0.0
	if prevAvgVolume > 0 && t.QuoteVolume24h > 0 {
		volumeRatio = t.QuoteVolume24h / prevAvgVolume
		if volumeRatio >= th.VolumeSurgeRatio {
			reasons = append(reasons, "volume_surge")
		}
	}

	if len(reasons) == 0 {
		return
	}

	// Significance gate: is the move meaningful for this asset's nature?
	sig := e.filter.Check(t.Symbol, detect.Observation{
		PriceChangePct:    pctChange,
		VelocityPctPerSec: velocity,
		VolumeRatio:       volumeRatio,
		SpreadRatio:       spreadRatio,
		BidAskRatio:       bidAskRatio(t),
	})
	if sig.Level == detect.Noise {
		e.mu.Lock()
		e.counters.NoiseDropped++
		throttled := e.now().Sub(s.lastNoiseLog) < e.cfg.NoiseLogThrottle
		if !throttled {
			s.lastNoiseLog = e.now()
		}
		e.mu.Unlock()
		if !throttled {
			e.logger.Debug("Trigger dropped as noise",
				"symbol", t.Symbol,
				"reasons", joinReasons(reasons),
				"category", string(e.filter.Categorize(t.Symbol)))
		}
		return
	}

	now := e.now()
	if !s.lastTrigger.IsZero() && now.Sub(s.lastTrigger) < e.cfg.Cooldown {
		e.mu.Lock()
		e.counters.CooldownDropped++
		e.mu.Unlock()
		e.logger.Debug("Trigger suppressed by cooldown",
			"symbol", t.Symbol,
			"since_last", now.Sub(s.lastTrigger).String())
		return
	}
	s.lastTrigger = now

	e.mu.Lock()
	e.counters.TriggersFired++
	e.mu.Unlock()

	priority := triggerPriority(assessment.Severity, len(reasons))
	reason := joinReasons(reasons)
	e.bus.PublishTrigger(t.Symbol, reason, priority, t.Price)
	e.precompute.Touch(t.Symbol, 60)

	e.evaluate(t, s, reason, priority, sig)
}

// evaluate runs enrichment, fan-out, selection, dedup, and emission for one
// significant trigger.
func (e *Engine) evaluate(t market.Ticker, s *symbolState, reason, priority string, sig detect.SignificanceResult) {
	condition := detect.MarketCondition(e.regimes.RegimeOf(t.Symbol))

	input, err := e.enricher.BuildInput(e.ctx, t, condition)
	if err != nil {
		e.logger.Warn("Enrichment failed, trigger abandoned",
			"symbol", t.Symbol,
			"error", err)
		return
	}

	verdicts := e.dispatcher.Dispatch(e.ctx, input)
	sel := e.selector.Select(t.Symbol, verdicts, condition)

	trigger := &TriggerRecord{
		Symbol:      t.Symbol,
		Reason:      reason,
		Priority:    priority,
		MarketPrice: t.Price,
		Change1h:    t.ChangePct1h,
		Volume24h:   t.QuoteVolume24h,
		CreatedAt:   e.now(),
	}
	if input.Indicators != nil {
		if raw, err := json.Marshal(input.Indicators); err == nil {
			trigger.Indicators = string(raw)
		}
	}

	if sel == nil {
		e.mu.Lock()
		e.counters.SignalsRejected++
		e.mu.Unlock()

		trigger.Rejected = true
		trigger.RejectionReason = rejectionSummary(verdicts)
		e.persistTrigger(trigger)
		return
	}

	// Per-symbol 2h bucket dedup
	now := e.now()
	bucket := now.UnixMilli() / e.cfg.SignalDedup.Milliseconds()
	e.mu.Lock()
	if s.lastSignalBucket == bucket {
		e.counters.DedupDropped++
		e.mu.Unlock()
		e.logger.Debug("Signal suppressed by dedup bucket", "symbol", t.Symbol)
		trigger.Rejected = true
		trigger.RejectionReason = "deduplicated within window"
		e.persistTrigger(trigger)
		return
	}
	s.lastSignalBucket = bucket
	e.mu.Unlock()

	rec := buildSignalRecord(sel, t.Price, condition, now)

	trigger.Strategy = sel.Winner.Strategy
	trigger.SignalGenerated = true
	trigger.Reasoning = sel.Winner.Reasoning
	e.persistTrigger(trigger)

	if err := e.sink.SaveSignal(e.ctx, rec); err != nil {
		e.mu.Lock()
		e.counters.Unpersisted++
		e.mu.Unlock()
		e.logger.Error("Signal persistence failed, emitting anyway",
			"symbol", rec.Symbol,
			"signal_id", rec.ID,
			"error", err)
	}

	e.reputation.Record(selector.SignalRecord{
		SignalID:  rec.ID,
		Strategy:  sel.Winner.Strategy,
		Symbol:    rec.Symbol,
		Direction: sel.Winner.Direction,
		Entry:     t.Price,
		Condition: condition,
		CreatedAt: now,
	})

	e.mu.Lock()
	e.counters.SignalsGenerated++
	e.recent = append(e.recent, rec)
	if len(e.recent) > recentSignalCap {
		e.recent = e.recent[1:]
	}
	e.mu.Unlock()

	e.bus.PublishSignal(signalPayload(rec))
	e.logger.Info("Signal generated",
		"symbol", rec.Symbol,
		"direction", rec.Direction,
		"strategy", sel.Winner.Strategy,
		"confidence", rec.Confidence,
		"risk_level", string(rec.RiskLevel),
		"significance", sig.Level.String())
}

func (e *Engine) persistTrigger(rec *TriggerRecord) {
	if err := e.sink.SaveTrigger(e.ctx, rec); err != nil {
		e.logger.Debug("Trigger persistence failed",
			"symbol", rec.Symbol,
			"error", err)
	}
}

func (e *Engine) publishRegimeChange(change *detect.RegimeChange) {
	e.bus.PublishRegimeChange(change.Symbol, string(change.From), string(change.To),
		change.Volatility, map[string]float64{
			"price_change_pct":      change.Thresholds.PriceChangePct,
			"velocity_pct_per_sec":  change.Thresholds.VelocityPctPerSec,
			"spread_widening_ratio": change.Thresholds.SpreadWideningRatio,
			"volume_surge_ratio":    change.Thresholds.VolumeSurgeRatio,
		})
	e.logger.Info("Regime changed",
		"symbol", change.Symbol,
		"from", string(change.From),
		"to", string(change.To),
		"volatility", change.Volatility)
}

func (e *Engine) heartbeatLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			c := e.Counters()
			e.bus.PublishHeartbeat("running", map[string]interface{}{
				"ticks_processed":   c.TicksProcessed,
				"ticks_dropped":     c.TicksDropped,
				"triggers_fired":    c.TriggersFired,
				"noise_dropped":     c.NoiseDropped,
				"signals_generated": c.SignalsGenerated,
				"signals_rejected":  c.SignalsRejected,
				"unpersisted":       c.Unpersisted,
			})
		}
	}
}

func triggerPriority(severity detect.Severity, predicates int) string {
	switch {
	case severity >= detect.SeverityHigh:
		return "HIGH"
	case severity == detect.SeverityMedium || predicates >= 2:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func rejectionSummary(verdicts []*strategy.Verdict) string {
	valid := 0
	for _, v := range verdicts {
		if v != nil && !v.Rejected {
			valid++
		}
	}
	if valid == 0 {
		return "all strategies rejected"
	}
	return "conflicted direction split"
}

func bidAskRatio(t market.Ticker) float64 {
	if t.Bid <= 0 || t.Ask <= 0 {
		return 0
	}
	return t.Bid / t.Ask
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "+"
		}
		out += r
	}
	return out
}
