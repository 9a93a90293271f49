package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/cache"
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

func TestRiskLevelFor(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		stop  float64
		want  RiskLevel
	}{
		{"tight stop", 100, 98, RiskLow},
		{"no distance", 100, 100, RiskLow},
		{"three percent", 100, 97, RiskModerate},
		{"seven percent", 100, 93, RiskModerate},
		{"wide stop", 100, 92, RiskHigh},
		{"short side wide", 100, 108, RiskHigh},
		{"zero price", 0, 95, RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := riskLevelFor(tt.price, tt.stop); got != tt.want {
				t.Errorf("riskLevelFor(%v, %v) = %s, want %s", tt.price, tt.stop, got, tt.want)
			}
		})
	}
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"4h", 4 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{" 4H ", 4 * time.Hour},
		{"", 0},
		{"h", 0},
		{"-5m", 0},
		{"5x", 0},
	}
	for _, tt := range tests {
		if got := parseTimeframe(tt.in); got != tt.want {
			t.Errorf("parseTimeframe(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExpiryFor(t *testing.T) {
	tests := []struct {
		timeframe string
		want      time.Duration
	}{
		{"15m", 2 * time.Hour},
		{"1h", 24 * time.Hour},
		{"4h", 24 * time.Hour},
		{"1d", 72 * time.Hour},
		{"3d", 72 * time.Hour},
		{"1w", 168 * time.Hour},
		{"", 24 * time.Hour},
		{"garbage", 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := expiryFor(tt.timeframe); got != tt.want {
			t.Errorf("expiryFor(%q) = %v, want %v", tt.timeframe, got, tt.want)
		}
	}
}

func TestTriggerPriority(t *testing.T) {
	tests := []struct {
		name       string
		severity   detect.Severity
		predicates int
		want       string
	}{
		{"critical", detect.SeverityCritical, 1, "HIGH"},
		{"high", detect.SeverityHigh, 1, "HIGH"},
		{"medium", detect.SeverityMedium, 1, "MEDIUM"},
		{"stacked predicates", detect.SeverityNone, 2, "MEDIUM"},
		{"quiet single", detect.SeverityNone, 1, "LOW"},
		{"low single", detect.SeverityLow, 1, "LOW"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := triggerPriority(tt.severity, tt.predicates); got != tt.want {
				t.Errorf("triggerPriority = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRejectionSummary(t *testing.T) {
	allRejected := []*strategy.Verdict{
		strategy.Reject("bitcoin", "A", "no edge"),
		nil,
		strategy.Reject("bitcoin", "B", "too quiet"),
	}
	if got := rejectionSummary(allRejected); got != "all strategies rejected" {
		t.Errorf("summary = %q, want all-rejected wording", got)
	}

	split := []*strategy.Verdict{
		{Strategy: "A", Direction: strategy.Long, Confidence: 80},
		{Strategy: "B", Direction: strategy.Short, Confidence: 75},
	}
	if got := rejectionSummary(split); got != "conflicted direction split" {
		t.Errorf("summary = %q, want conflicted wording", got)
	}
}

func TestBidAskRatio(t *testing.T) {
	if got := bidAskRatio(market.Ticker{Bid: 0, Ask: 101}); got != 0 {
		t.Errorf("ratio with missing bid = %v, want 0", got)
	}
	if got := bidAskRatio(market.Ticker{Bid: 99, Ask: 100}); got != 0.99 {
		t.Errorf("ratio = %v, want 0.99", got)
	}
}

func TestJoinReasons(t *testing.T) {
	if got := joinReasons(nil); got != "" {
		t.Errorf("joinReasons(nil) = %q, want empty", got)
	}
	if got := joinReasons([]string{"price_change"}); got != "price_change" {
		t.Errorf("joinReasons = %q", got)
	}
	got := joinReasons([]string{"price_change", "velocity", "volume_surge"})
	if got != "price_change+velocity+volume_surge" {
		t.Errorf("joinReasons = %q", got)
	}
}

func TestSignalRecordStrategyName(t *testing.T) {
	r := &SignalRecord{Timeframe: "MOMENTUM_CONFLUENCE:4h"}
	if got := r.StrategyName(); got != "MOMENTUM_CONFLUENCE" {
		t.Errorf("StrategyName = %q", got)
	}
	r = &SignalRecord{Timeframe: "4h"}
	if got := r.StrategyName(); got != "4h" {
		t.Errorf("unencoded StrategyName = %q", got)
	}
}

// --- pipeline harness ---

type engClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *engClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *engClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordSink struct {
	mu         sync.Mutex
	signals    []*SignalRecord
	triggers   []*TriggerRecord
	failSignal bool
}

func (s *recordSink) SaveSignal(_ context.Context, rec *SignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSignal {
		return context.DeadlineExceeded
	}
	s.signals = append(s.signals, rec)
	return nil
}

func (s *recordSink) SaveTrigger(_ context.Context, rec *TriggerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, rec)
	return nil
}

func (s *recordSink) Close() {}

func (s *recordSink) setFail(v bool) {
	s.mu.Lock()
	s.failSignal = v
	s.mu.Unlock()
}

func (s *recordSink) snapshot() (signals []*SignalRecord, triggers []*TriggerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*SignalRecord(nil), s.signals...), append([]*TriggerRecord(nil), s.triggers...)
}

// longStrategy always votes LONG with a tight stop
type longStrategy struct{}

func (longStrategy) Name() string           { return "MOMO" }
func (longStrategy) MinConfidence() float64 { return 50 }
func (longStrategy) Evaluate(_ context.Context, in *strategy.Input) (*strategy.Verdict, error) {
	p := in.Ticker.Price
	return &strategy.Verdict{
		Direction:  strategy.Long,
		Confidence: 80,
		Strength:   strategy.StrengthStrong,
		EntryMin:   p * 0.999,
		EntryMax:   p * 1.001,
		StopLoss:   p * 0.98,
		Target1:    p * 1.02,
		Target2:    p * 1.04,
		Target3:    p * 1.06,
		RiskReward: 2.5,
		Timeframe:  "4h",
		Reasoning:  "momentum continuation",
	}, nil
}

// quietStrategy rejects everything
type quietStrategy struct{}

func (quietStrategy) Name() string           { return "QUIET" }
func (quietStrategy) MinConfidence() float64 { return 50 }
func (quietStrategy) Evaluate(_ context.Context, in *strategy.Input) (*strategy.Verdict, error) {
	return strategy.Reject(in.Ticker.Symbol, "QUIET", "conditions not met"), nil
}

// candleServer serves 60 valid OHLCV rows for any symbol
func candleServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows := make([][]float64, 60)
		base := 49000.0
		for i := range rows {
			o := base + float64(i)*10
			c := o + 8
			rows[i] = []float64{float64(1_700_000_000_000 + i*60_000), o, c + 2, o - 2, c, 1000 + float64(i)}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rows)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestEngine(t *testing.T, strategies []strategy.Strategy) (*Engine, *engClock, *recordSink) {
	t.Helper()

	logger := logging.New(&logging.Config{Level: "ERROR", Component: "test"})
	clk := &engClock{now: time.UnixMilli(1_700_000_000_000)}
	bus := events.NewBus()

	memo := cache.NewMemo(cache.Config{Enabled: false}, logger)
	t.Cleanup(memo.Close)
	indCache := indicators.NewCacheAt(0, time.Now)

	candles := enrich.NewCandleStore(candleServer(t).URL+"/coins/%s/ohlc", logger)
	sentiment := enrich.NewSentimentClient("", memo, logger)
	intel := enrich.NewIntelClient("", "", memo, logger)
	enricher := enrich.NewEnricher(indCache, candles, sentiment, intel, 50, logger)

	tiers := tier.NewManagerAt(tier.DefaultConfig(), bus, logger, clk.Now)
	precompute := indicators.NewPrecomputer(indicators.PrecomputerConfig{}, indCache, candles, tiers, logger)
	rep := selector.NewReputation(logger)
	sink := &recordSink{}

	e := New(Config{}, Deps{
		Bus:        bus,
		Normalizer: market.NewNormalizerAt(clk.Now),
		Detector:   detect.NewAnomalyDetector(logger),
		Regimes:    detect.NewRegimeTracker(detect.Thresholds{PriceChangePct: 0.10, VelocityPctPerSec: 0.35, SpreadWideningRatio: 1.8, VolumeSurgeRatio: 1.8}),
		Tiers:      tiers,
		Filter:     detect.NewSignificanceFilter(nil),
		Enricher:   enricher,
		Dispatcher: strategy.NewDispatcher(strategies, 2*time.Second, logger),
		Selector:   selector.NewSelector(rep, logger),
		Reputation: rep,
		Precompute: precompute,
		Sink:       sink,
	}, logger)
	e.now = clk.Now

	e.Start()
	t.Cleanup(e.Stop)
	return e, clk, sink
}

func engTick(symbol string, price float64, clk *engClock) market.Ticker {
	return market.Ticker{
		Symbol:   symbol,
		Source:   market.ExchangeBinance,
		Price:    price,
		SourceTs: clk.Now().UnixMilli(),
	}
}

func TestProcessRejectsInvalidTick(t *testing.T) {
	e, clk, _ := newTestEngine(t, []strategy.Strategy{longStrategy{}})

	e.process(engTick("", 50000, clk))
	if c := e.Counters(); c.TicksProcessed != 0 {
		t.Errorf("ticks processed = %d, want 0 for an invalid tick", c.TicksProcessed)
	}
}

func TestProcessQuietTickNoTrigger(t *testing.T) {
	e, clk, sink := newTestEngine(t, []strategy.Strategy{longStrategy{}})

	e.process(engTick("bitcoin", 50000, clk))
	clk.Advance(6 * time.Second)
	e.process(engTick("bitcoin", 50001, clk)) // +0.002%, below every threshold

	c := e.Counters()
	if c.TicksProcessed != 2 {
		t.Errorf("ticks processed = %d, want 2", c.TicksProcessed)
	}
	if c.TriggersFired != 0 {
		t.Errorf("triggers fired = %d, want 0", c.TriggersFired)
	}
	if _, triggers := sink.snapshot(); len(triggers) != 0 {
		t.Errorf("persisted triggers = %d, want 0", len(triggers))
	}
}

func TestPipelineSignalCooldownAndDedup(t *testing.T) {
	e, clk, sink := newTestEngine(t, []strategy.Strategy{longStrategy{}})

	// Warm-up tick, then a 1.2% gap: HIGH anomaly forces evaluation past the
	// tier cadence and price_change fires against the NORMAL thresholds.
	e.process(engTick("bitcoin", 50000, clk))
	clk.Advance(6 * time.Second)
	e.process(engTick("bitcoin", 50600, clk))

	c := e.Counters()
	if c.TriggersFired != 1 {
		t.Fatalf("triggers fired = %d, want 1", c.TriggersFired)
	}
	if c.SignalsGenerated != 1 {
		t.Fatalf("signals generated = %d, want 1 (counters: %+v)", c.SignalsGenerated, c)
	}

	recent := e.RecentSignals(10)
	if len(recent) != 1 {
		t.Fatalf("recent signals = %d, want 1", len(recent))
	}
	rec := recent[0]
	if rec.Symbol != "bitcoin" || rec.Direction != "LONG" {
		t.Errorf("signal = %s %s, want bitcoin LONG", rec.Symbol, rec.Direction)
	}
	if rec.StrategyName() != "MOMO" {
		t.Errorf("strategy = %q, want MOMO", rec.StrategyName())
	}
	if rec.Confidence != 80 {
		t.Errorf("confidence = %d, want 80 with a neutral reputation", rec.Confidence)
	}
	if rec.RiskLevel != RiskLow {
		t.Errorf("risk level = %s, want LOW for a 2%% stop", rec.RiskLevel)
	}
	if rec.Status != "ACTIVE" {
		t.Errorf("status = %q, want ACTIVE", rec.Status)
	}
	if want := rec.CreatedAt.Add(24 * time.Hour); !rec.ExpiresAt.Equal(want) {
		t.Errorf("expires = %v, want created+24h for a 4h timeframe", rec.ExpiresAt)
	}

	// Another jump 5s later lands inside the 30s cooldown.
	clk.Advance(5 * time.Second)
	e.process(engTick("bitcoin", 51258, clk))
	if c := e.Counters(); c.CooldownDropped != 1 || c.TriggersFired != 1 {
		t.Fatalf("counters after cooldown tick = %+v, want 1 cooldown drop", c)
	}

	// Past the cooldown but inside the same 2h bucket: the trigger fires but
	// the signal is deduplicated.
	clk.Advance(26 * time.Second)
	e.process(engTick("bitcoin", 51873, clk))
	c = e.Counters()
	if c.TriggersFired != 2 {
		t.Fatalf("triggers fired = %d, want 2 after the cooldown expires", c.TriggersFired)
	}
	if c.DedupDropped != 1 {
		t.Fatalf("dedup dropped = %d, want 1", c.DedupDropped)
	}
	if c.SignalsGenerated != 1 {
		t.Errorf("signals generated = %d, want still 1", c.SignalsGenerated)
	}

	signals, triggers := sink.snapshot()
	if len(signals) != 1 {
		t.Errorf("persisted signals = %d, want 1", len(signals))
	}
	if len(triggers) != 2 {
		t.Fatalf("persisted triggers = %d, want 2", len(triggers))
	}
	if !triggers[0].SignalGenerated || triggers[0].Rejected {
		t.Errorf("first trigger = %+v, want signal_generated", triggers[0])
	}
	if !triggers[1].Rejected || triggers[1].RejectionReason != "deduplicated within window" {
		t.Errorf("second trigger = %+v, want dedup rejection", triggers[1])
	}

	// A fresh bucket with a failing sink: the signal is counted unpersisted
	// but still emitted and kept in the recent ring.
	sink.setFail(true)
	clk.Advance(3 * time.Hour)
	e.process(engTick("bitcoin", 52495, clk))
	c = e.Counters()
	if c.SignalsGenerated != 2 {
		t.Fatalf("signals generated = %d, want 2 in the new bucket (counters: %+v)", c.SignalsGenerated, c)
	}
	if c.Unpersisted != 1 {
		t.Errorf("unpersisted = %d, want 1", c.Unpersisted)
	}
	if got := e.RecentSignals(10); len(got) != 2 {
		t.Errorf("recent signals = %d, want 2", len(got))
	}
}

func TestPipelineAllStrategiesRejected(t *testing.T) {
	e, clk, sink := newTestEngine(t, []strategy.Strategy{quietStrategy{}})

	e.process(engTick("bitcoin", 50000, clk))
	clk.Advance(6 * time.Second)
	e.process(engTick("bitcoin", 50600, clk))

	c := e.Counters()
	if c.TriggersFired != 1 {
		t.Fatalf("triggers fired = %d, want 1", c.TriggersFired)
	}
	if c.SignalsRejected != 1 || c.SignalsGenerated != 0 {
		t.Fatalf("counters = %+v, want one rejection and no signal", c)
	}

	_, triggers := sink.snapshot()
	if len(triggers) != 1 {
		t.Fatalf("persisted triggers = %d, want 1", len(triggers))
	}
	if !triggers[0].Rejected || triggers[0].RejectionReason != "all strategies rejected" {
		t.Errorf("trigger = %+v, want all-rejected trace", triggers[0])
	}
}

func TestHandleTickAfterStopIsNoOp(t *testing.T) {
	e, clk, _ := newTestEngine(t, []strategy.Strategy{longStrategy{}})

	e.Stop()
	e.HandleTick(engTick("bitcoin", 50000, clk))
	if c := e.Counters(); c.TicksProcessed != 0 || c.TicksDropped != 0 {
		t.Errorf("stopped engine accepted a tick: %+v", c)
	}
}

func TestRecentSignalsNewestFirst(t *testing.T) {
	e, _, _ := newTestEngine(t, []strategy.Strategy{longStrategy{}})

	e.mu.Lock()
	e.recent = append(e.recent,
		&SignalRecord{ID: "a"},
		&SignalRecord{ID: "b"},
		&SignalRecord{ID: "c"})
	e.mu.Unlock()

	got := e.RecentSignals(2)
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("recent = %v, want [c b]", []string{got[0].ID, got[1].ID})
	}
}
