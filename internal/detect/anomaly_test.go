package detect

import (
	"testing"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/market"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Component: "test"})
}

func tick(symbol string, price float64, ts int64) market.Ticker {
	return market.Ticker{
		Symbol:   symbol,
		Source:   market.ExchangeBinance,
		Price:    price,
		SourceTs: ts,
	}
}

func TestAnomalyFirstTickIsNone(t *testing.T) {
	d := NewAnomalyDetector(testLogger())
	a := d.Check(tick("bitcoin", 50000, 1000))
	if a.Severity != SeverityNone {
		t.Errorf("first tick severity = %s, want NONE", a.Severity)
	}
}

func TestAnomalyNonPositiveDeltaIsNone(t *testing.T) {
	d := NewAnomalyDetector(testLogger())
	d.Check(tick("bitcoin", 50000, 2000))
	a := d.Check(tick("bitcoin", 60000, 2000))
	if a.Severity != SeverityNone {
		t.Errorf("zero-delta severity = %s, want NONE", a.Severity)
	}
	a = d.Check(tick("bitcoin", 60000, 1000))
	if a.Severity != SeverityNone {
		t.Errorf("negative-delta severity = %s, want NONE", a.Severity)
	}
}

func TestAnomalyPriceGapBands(t *testing.T) {
	tests := []struct {
		name     string
		prev     float64
		next     float64
		deltaMs  int64
		want     Severity
	}{
		// Long deltas keep velocity out of the picture
		{"quiet", 100, 100.3, 60000, SeverityNone},
		{"medium gap", 100, 100.7, 60000, SeverityMedium},
		{"high gap", 100, 101.5, 60000, SeverityHigh},
		{"critical gap", 100, 102.5, 60000, SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewAnomalyDetector(testLogger())
			d.Check(tick("bitcoin", tt.prev, 1000))
			a := d.Check(tick("bitcoin", tt.next, 1000+tt.deltaMs))
			if a.Severity != tt.want {
				t.Errorf("severity = %s, want %s (reasons %v)", a.Severity, tt.want, a.Reasons)
			}
		})
	}
}

func TestAnomalyVelocityCritical(t *testing.T) {
	d := NewAnomalyDetector(testLogger())
	// 5% move in 1s: gap CRITICAL and velocity 5 %/s CRITICAL
	d.Check(tick("solana", 100, 1000))
	a := d.Check(tick("solana", 105, 2000))
	if a.Severity != SeverityCritical {
		t.Fatalf("severity = %s, want CRITICAL", a.Severity)
	}
	if !hasReason(a.Reasons, "velocity") {
		t.Errorf("reasons = %v, want velocity flagged", a.Reasons)
	}
}

func TestAnomalySpreadChange(t *testing.T) {
	d := NewAnomalyDetector(testLogger())

	prev := tick("bitcoin", 100, 1000)
	prev.Bid, prev.Ask = 99.95, 100.05 // 0.1% spread
	d.Check(prev)

	next := tick("bitcoin", 100, 61000)
	next.Bid, next.Ask = 99.25, 100.75 // 1.5% spread, delta 1.4pp
	a := d.Check(next)
	if a.Severity != SeverityHigh {
		t.Errorf("severity = %s, want HIGH", a.Severity)
	}
	if !hasReason(a.Reasons, "spread_change") {
		t.Errorf("reasons = %v, want spread_change", a.Reasons)
	}
}

func TestAnomalyVolumeSurge(t *testing.T) {
	d := NewAnomalyDetector(testLogger())

	prev := tick("bitcoin", 100, 1000)
	prev.QuoteVolume24h = 1000000
	d.Check(prev)

	// +25% cumulative volume within 2s
	next := tick("bitcoin", 100.1, 3000)
	next.QuoteVolume24h = 1250000
	a := d.Check(next)
	if a.Severity != SeverityMedium {
		t.Errorf("severity = %s, want MEDIUM", a.Severity)
	}
	if !hasReason(a.Reasons, "volume_surge") {
		t.Errorf("reasons = %v, want volume_surge", a.Reasons)
	}
}

func TestAnomalyVolumeSurgeIgnoredOnSlowDelta(t *testing.T) {
	d := NewAnomalyDetector(testLogger())

	prev := tick("bitcoin", 100, 1000)
	prev.QuoteVolume24h = 1000000
	d.Check(prev)

	// Same surge but 10s apart: outside the surge window
	next := tick("bitcoin", 100.1, 11000)
	next.QuoteVolume24h = 1250000
	a := d.Check(next)
	if hasReason(a.Reasons, "volume_surge") {
		t.Errorf("reasons = %v, volume_surge should not fire past 5s", a.Reasons)
	}
}

func TestAnomalyAcceleration(t *testing.T) {
	d := NewAnomalyDetector(testLogger())

	// Build a 5-sample velocity window climbing from 0.05 to 1.2 %/s, so
	// the window delta clears the 1pp acceleration bar.
	prices := []float64{100, 100.05, 100.15, 100.35, 100.75, 101.959}
	var last Assessment
	for i, p := range prices {
		last = d.Check(tick("bitcoin", p, int64(1000+i*1000)))
	}
	if !hasReason(last.Reasons, "acceleration") {
		t.Errorf("reasons = %v, want acceleration", last.Reasons)
	}
	if last.Severity < SeverityHigh {
		t.Errorf("severity = %s, want at least HIGH", last.Severity)
	}
}

func hasReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}
