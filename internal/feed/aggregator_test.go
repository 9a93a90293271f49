package feed

import (
	"sync"
	"testing"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/events"
	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/market"
	"github.com/Subthedev/QuantumX-sub000/internal/stream"
)

type aggClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *aggClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *aggClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAggregator(emit func(market.Ticker)) (*Aggregator, *aggClock) {
	if emit == nil {
		emit = func(market.Ticker) {}
	}
	logger := logging.New(&logging.Config{Level: "ERROR", Component: "test"})
	a := NewAggregator(Config{DedupWindow: time.Second}, events.NewBus(), logger, emit)
	c := &aggClock{now: time.UnixMilli(1_700_000_000_000)}
	a.now = c.Now
	return a, c
}

func aggTick(symbol string, source market.Exchange, price float64, sourceTs int64) market.Ticker {
	return market.Ticker{Symbol: symbol, Source: source, Price: price, SourceTs: sourceTs}
}

func TestAcceptDeduplicatesAcrossSources(t *testing.T) {
	a, c := newTestAggregator(nil)
	base := c.Now().UnixMilli()

	// Same symbol, same second bucket, two sources: first in wins
	if !a.accept(aggTick("bitcoin", market.ExchangeBinance, 50000, base)) {
		t.Fatal("first tick rejected")
	}
	if a.accept(aggTick("bitcoin", market.ExchangeCoinbase, 50001, base+200)) {
		t.Error("duplicate within the window accepted")
	}

	st := a.Stats()
	if st.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", st.Duplicates)
	}

	// The kept tick is the first one
	lp, ok := a.Last("bitcoin")
	if !ok || lp.Price != 50000 || lp.Source != market.ExchangeBinance {
		t.Errorf("last price = %+v, want the first-in tick", lp)
	}
}

func TestAcceptPassesDistinctBuckets(t *testing.T) {
	a, c := newTestAggregator(nil)
	base := c.Now().UnixMilli()

	if !a.accept(aggTick("bitcoin", market.ExchangeBinance, 50000, base)) {
		t.Fatal("first tick rejected")
	}
	c.Advance(1200 * time.Millisecond)
	if !a.accept(aggTick("bitcoin", market.ExchangeBinance, 50010, base+1200)) {
		t.Error("tick in the next second bucket rejected")
	}
}

func TestAcceptMonotonicityGuard(t *testing.T) {
	a, c := newTestAggregator(nil)
	base := c.Now().UnixMilli()

	a.accept(aggTick("bitcoin", market.ExchangeBinance, 50000, base))
	c.Advance(2 * time.Second)

	// Same source going backwards in time is dropped as stale
	if a.accept(aggTick("bitcoin", market.ExchangeBinance, 49000, base-500)) {
		t.Error("backwards tick from the same source accepted")
	}
	if st := a.Stats(); st.Stale != 1 {
		t.Errorf("stale = %d, want 1", st.Stale)
	}

	// A different source with an older timestamp is not held to the same
	// per-source watermark; the dedup bucket decides instead.
	if !a.accept(aggTick("bitcoin", market.ExchangeCoinbase, 49990, base-1500)) {
		t.Error("older tick from a different source and bucket rejected")
	}
}

func TestAcceptMonotonicitySurvivesInterleavedSources(t *testing.T) {
	a, c := newTestAggregator(nil)
	base := c.Now().UnixMilli()

	if !a.accept(aggTick("bitcoin", market.ExchangeBinance, 50000, base)) {
		t.Fatal("first binance tick rejected")
	}
	c.Advance(3 * time.Second)
	if !a.accept(aggTick("bitcoin", market.ExchangeCoinbase, 50005, base+2500)) {
		t.Fatal("interleaved coinbase tick rejected")
	}

	// Binance going backwards must still be dropped even though the last
	// accepted tick for the symbol now came from coinbase.
	if a.accept(aggTick("bitcoin", market.ExchangeBinance, 49000, base-500)) {
		t.Error("out-of-order binance tick accepted after a coinbase interleave")
	}
	if st := a.Stats(); st.Stale != 1 {
		t.Errorf("stale = %d, want 1", st.Stale)
	}

	// Forward progress on the binance watermark is still accepted
	c.Advance(time.Second)
	if !a.accept(aggTick("bitcoin", market.ExchangeBinance, 50010, base+4000)) {
		t.Error("monotone binance tick rejected")
	}
}

func TestStaleSymbols(t *testing.T) {
	a, c := newTestAggregator(nil)
	base := c.Now().UnixMilli()

	a.accept(aggTick("bitcoin", market.ExchangeBinance, 50000, base))
	c.Advance(40 * time.Second)
	a.accept(aggTick("ethereum", market.ExchangeBinance, 3000, base+40000))

	stale := a.StaleSymbols([]string{"bitcoin", "ethereum", "solana"}, 30*time.Second)
	if len(stale) != 2 {
		t.Fatalf("stale = %v, want bitcoin and never-seen solana", stale)
	}
	want := map[string]bool{"bitcoin": true, "solana": true}
	for _, s := range stale {
		if !want[s] {
			t.Errorf("unexpected stale symbol %s", s)
		}
	}
}

func TestStatsHealth(t *testing.T) {
	a, c := newTestAggregator(nil)

	// No sources connected, no ticks: unhealthy
	if a.Stats().Healthy {
		t.Error("empty aggregator reports healthy")
	}

	a.SetSourceStatus(market.ExchangeBinance, stream.StatusConnected)
	a.accept(aggTick("bitcoin", market.ExchangeBinance, 50000, c.Now().UnixMilli()))

	st := a.Stats()
	if !st.Healthy || st.ActiveSources != 1 {
		t.Errorf("stats = %+v, want healthy with one active source", st)
	}

	// Fresh status but no ticks for over a minute: unhealthy
	c.Advance(70 * time.Second)
	if a.Stats().Healthy {
		t.Error("aggregator healthy with 70s-old last tick")
	}

	a.SetSourceStatus(market.ExchangeBinance, stream.StatusReconnecting)
	a.accept(aggTick("bitcoin", market.ExchangeBinance, 50001, c.Now().UnixMilli()))
	if a.Stats().Healthy {
		t.Error("aggregator healthy with no connected source")
	}
}

func TestLatencyAccounting(t *testing.T) {
	a, c := newTestAggregator(nil)
	base := c.Now().UnixMilli()

	// Two ticks arriving 100ms and 300ms after their source timestamps
	a.accept(aggTick("bitcoin", market.ExchangeBinance, 50000, base-100))
	a.accept(aggTick("ethereum", market.ExchangeBinance, 3000, base-300))

	if got := a.Stats().AvgLatencyMs; got != 200 {
		t.Errorf("avg latency = %v, want 200", got)
	}
}

func TestIngestNeverBlocks(t *testing.T) {
	a, _ := newTestAggregator(nil)

	// Without the process loop running, the channel fills and further
	// ticks are counted as drops instead of blocking.
	for i := 0; i < ingestBuffer+10; i++ {
		a.Ingest(aggTick("bitcoin", market.ExchangeBinance, 50000, int64(i+1)))
	}
	if st := a.Stats(); st.Dropped != 10 {
		t.Errorf("dropped = %d, want 10", st.Dropped)
	}
}

func TestRoundTripThroughProcessLoop(t *testing.T) {
	got := make(chan market.Ticker, 16)
	a, c := newTestAggregator(func(tk market.Ticker) { got <- tk })

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	base := c.Now().UnixMilli()
	a.Ingest(aggTick("bitcoin", market.ExchangeBinance, 50000, base))
	a.Ingest(aggTick("bitcoin", market.ExchangeCoinbase, 50002, base+100)) // dup bucket
	a.Ingest(aggTick("ethereum", market.ExchangeBinance, 3000, base))

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case tk := <-got:
			seen[tk.Symbol]++
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for emitted ticks, got %v", seen)
		}
	}
	if seen["bitcoin"] != 1 || seen["ethereum"] != 1 {
		t.Errorf("emitted = %v, want one bitcoin and one ethereum", seen)
	}

	select {
	case tk := <-got:
		t.Errorf("unexpected extra emission %+v", tk)
	case <-time.After(100 * time.Millisecond):
	}
}
