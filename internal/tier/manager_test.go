package tier

import (
	"sync"
	"testing"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/detect"
	"github.com/Subthedev/QuantumX-sub000/internal/events"
	"github.com/Subthedev/QuantumX-sub000/internal/logging"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager() (*Manager, *clock) {
	c := &clock{now: time.UnixMilli(1_700_000_000_000)}
	logger := logging.New(&logging.Config{Level: "ERROR", Component: "test"})
	return NewManagerAt(DefaultConfig(), events.NewBus(), logger, c.Now), c
}

func TestTierStartsAtOne(t *testing.T) {
	m, _ := newTestManager()
	if got := m.TierOf("bitcoin"); got != 1 {
		t.Errorf("TierOf = %d, want 1", got)
	}
}

func TestTierPromotion(t *testing.T) {
	tests := []struct {
		name     string
		severity detect.Severity
		want     int
	}{
		{"none stays baseline", detect.SeverityNone, 1},
		{"low stays baseline", detect.SeverityLow, 1},
		{"medium to active", detect.SeverityMedium, 2},
		{"high to hot", detect.SeverityHigh, 3},
		{"critical to hot", detect.SeverityCritical, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager()
			m.RecordAnomaly("bitcoin", tt.severity)
			if got := m.TierOf("bitcoin"); got != tt.want {
				t.Errorf("tier = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTierPromotionNeverDemotes(t *testing.T) {
	m, _ := newTestManager()
	m.RecordAnomaly("bitcoin", detect.SeverityCritical)
	m.RecordAnomaly("bitcoin", detect.SeverityMedium)
	if got := m.TierOf("bitcoin"); got != 3 {
		t.Errorf("tier = %d, want 3 (MEDIUM must not demote)", got)
	}
}

func TestTierIdleDemotionOneLevelPerCheck(t *testing.T) {
	m, c := newTestManager()
	m.RecordAnomaly("bitcoin", detect.SeverityCritical)

	// Inside the tier-3 timeout nothing demotes
	c.Advance(9 * time.Second)
	m.ShouldCheck("bitcoin")
	if got := m.TierOf("bitcoin"); got != 3 {
		t.Fatalf("tier = %d, want 3 within the idle timeout", got)
	}

	// Past the 10s tier-3 timeout: one level down only
	c.Advance(2 * time.Second)
	m.ShouldCheck("bitcoin")
	if got := m.TierOf("bitcoin"); got != 2 {
		t.Fatalf("tier = %d, want 2 after one idle timeout", got)
	}

	// The demotion reset the idle clock; the tier-2 timeout (30s) must
	// fully elapse before the next step down.
	c.Advance(10 * time.Second)
	m.ShouldCheck("bitcoin")
	if got := m.TierOf("bitcoin"); got != 2 {
		t.Fatalf("tier = %d, want 2 before the tier-2 timeout", got)
	}

	c.Advance(21 * time.Second)
	m.ShouldCheck("bitcoin")
	if got := m.TierOf("bitcoin"); got != 1 {
		t.Errorf("tier = %d, want 1 after the tier-2 timeout", got)
	}
}

func TestShouldCheckCadence(t *testing.T) {
	m, c := newTestManager()

	// First call always checks
	if !m.ShouldCheck("bitcoin") {
		t.Fatal("first ShouldCheck = false, want true")
	}
	// Tier 1 interval is 5s
	c.Advance(4 * time.Second)
	if m.ShouldCheck("bitcoin") {
		t.Error("ShouldCheck inside the 5s interval = true, want false")
	}
	c.Advance(time.Second)
	if !m.ShouldCheck("bitcoin") {
		t.Error("ShouldCheck at the 5s interval = false, want true")
	}
}

func TestShouldCheckHotCadence(t *testing.T) {
	m, c := newTestManager()
	m.RecordAnomaly("bitcoin", detect.SeverityHigh)

	if !m.ShouldCheck("bitcoin") {
		t.Fatal("first ShouldCheck = false, want true")
	}
	// Tier 3 interval is 500ms
	c.Advance(400 * time.Millisecond)
	if m.ShouldCheck("bitcoin") {
		t.Error("ShouldCheck inside 500ms = true, want false")
	}
	c.Advance(100 * time.Millisecond)
	if !m.ShouldCheck("bitcoin") {
		t.Error("ShouldCheck at 500ms = false, want true")
	}
}

func TestTierChangePublishesEvents(t *testing.T) {
	c := &clock{now: time.UnixMilli(1_700_000_000_000)}
	logger := logging.New(&logging.Config{Level: "ERROR", Component: "test"})
	bus := events.NewBus()

	got := make(chan events.Event, 4)
	bus.Subscribe(events.EventTierUpgrade, func(e events.Event) { got <- e })
	bus.Subscribe(events.EventTierDowngrade, func(e events.Event) { got <- e })

	m := NewManagerAt(DefaultConfig(), bus, logger, c.Now)
	m.RecordAnomaly("bitcoin", detect.SeverityHigh)

	select {
	case e := <-got:
		if e.Type != events.EventTierUpgrade {
			t.Errorf("event type = %s, want tier-upgrade", e.Type)
		}
		if e.Data["toTier"] != 3 {
			t.Errorf("toTier = %v, want 3", e.Data["toTier"])
		}
	case <-time.After(time.Second):
		t.Fatal("no tier-upgrade event published")
	}

	c.Advance(11 * time.Second)
	m.ShouldCheck("bitcoin")
	select {
	case e := <-got:
		if e.Type != events.EventTierDowngrade {
			t.Errorf("event type = %s, want tier-downgrade", e.Type)
		}
		if e.Data["reason"] != "idle_timeout" {
			t.Errorf("reason = %v, want idle_timeout", e.Data["reason"])
		}
	case <-time.After(time.Second):
		t.Fatal("no tier-downgrade event published")
	}
}

func TestSnapshotCountsActivity(t *testing.T) {
	m, c := newTestManager()
	m.RecordAnomaly("bitcoin", detect.SeverityHigh)
	m.ShouldCheck("bitcoin")
	c.Advance(11 * time.Second)
	m.ShouldCheck("bitcoin")

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot size = %d, want 1", len(snap))
	}
	s := snap[0]
	if s.Symbol != "bitcoin" || s.Promotions != 1 || s.Demotions != 1 {
		t.Errorf("snapshot = %+v, want 1 promotion and 1 demotion", s)
	}
	if s.LastSeverity != detect.SeverityHigh {
		t.Errorf("last severity = %s, want HIGH", s.LastSeverity)
	}
}
