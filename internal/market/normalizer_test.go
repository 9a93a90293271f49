package market

import (
	"testing"
	"time"
)

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func validTick(nowMs int64) Ticker {
	return Ticker{
		Symbol:         "bitcoin",
		Source:         ExchangeBinance,
		Price:          50123.456789,
		Bid:            50120.0,
		Ask:            50125.0,
		QuoteVolume24h: 1234567.891,
		ChangePct24h:   2.3456,
		High24h:        51000,
		Low24h:         49000,
		SourceTs:       nowMs - 500,
	}
}

func TestNormalizeRejectsInvalidTicks(t *testing.T) {
	now := int64(1_700_000_000_000)
	n := NewNormalizerAt(fixedClock(now))

	tests := []struct {
		name   string
		mutate func(*Ticker)
	}{
		{"missing symbol", func(tk *Ticker) { tk.Symbol = "" }},
		{"zero price", func(tk *Ticker) { tk.Price = 0 }},
		{"negative price", func(tk *Ticker) { tk.Price = -5 }},
		{"bid above ask", func(tk *Ticker) { tk.Bid = 51000; tk.Ask = 50000 }},
		{"low above high", func(tk *Ticker) { tk.Low24h = 52000; tk.High24h = 49000 }},
		{"missing source timestamp", func(tk *Ticker) { tk.SourceTs = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := validTick(now)
			tt.mutate(&tk)
			_, res := n.Normalize(tk)
			if res.Valid {
				t.Fatalf("expected rejection, got valid result")
			}
			if len(res.Errors) == 0 {
				t.Fatalf("expected at least one error")
			}
		})
	}

	if got := n.Rejected(); got != uint64(len(tests)) {
		t.Errorf("Rejected() = %d, want %d", got, len(tests))
	}
}

func TestNormalizeNegativeVolumeWarns(t *testing.T) {
	now := int64(1_700_000_000_000)
	n := NewNormalizerAt(fixedClock(now))

	tk := validTick(now)
	tk.QuoteVolume24h = -10
	out, res := n.Normalize(tk)
	if !res.Valid {
		t.Fatalf("negative volume should warn, not reject: %v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", res.Warnings)
	}
	if out.QuoteVolume24h != 0 {
		t.Errorf("volume = %v, want clamped 0", out.QuoteVolume24h)
	}
	if n.Warned() != 1 {
		t.Errorf("Warned() = %d, want 1", n.Warned())
	}
}

func TestNormalizeQualityFromAge(t *testing.T) {
	now := int64(1_700_000_000_000)
	n := NewNormalizerAt(fixedClock(now))

	tests := []struct {
		ageMs int64
		want  Quality
	}{
		{500, QualityHigh},
		{999, QualityHigh},
		{1000, QualityMedium},
		{9999, QualityMedium},
		{10000, QualityLow},
		{29999, QualityLow},
		{30000, QualityStale},
		{120000, QualityStale},
	}
	for _, tt := range tests {
		tk := validTick(now)
		tk.SourceTs = now - tt.ageMs
		out, res := n.Normalize(tk)
		if !res.Valid {
			t.Fatalf("age %dms: unexpected rejection %v", tt.ageMs, res.Errors)
		}
		if out.Quality != tt.want {
			t.Errorf("age %dms: quality = %s, want %s", tt.ageMs, out.Quality, tt.want)
		}
	}
}

func TestNormalizePresetQualityOnlyDowngrades(t *testing.T) {
	now := int64(1_700_000_000_000)
	n := NewNormalizerAt(fixedClock(now))

	// Fresh tick pre-tagged MEDIUM by the fallback keeps MEDIUM
	tk := validTick(now)
	tk.Quality = QualityMedium
	out, _ := n.Normalize(tk)
	if out.Quality != QualityMedium {
		t.Errorf("fresh fallback tick quality = %s, want MEDIUM", out.Quality)
	}

	// Old tick pre-tagged MEDIUM still degrades to the age-derived tag
	tk = validTick(now)
	tk.Quality = QualityMedium
	tk.SourceTs = now - 45000
	out, _ = n.Normalize(tk)
	if out.Quality != QualityStale {
		t.Errorf("aged fallback tick quality = %s, want STALE", out.Quality)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	now := int64(1_700_000_000_000)
	n := NewNormalizerAt(fixedClock(now))

	once, res := n.Normalize(validTick(now))
	if !res.Valid {
		t.Fatalf("unexpected rejection: %v", res.Errors)
	}
	twice, res := n.Normalize(once)
	if !res.Valid {
		t.Fatalf("re-normalization rejected: %v", res.Errors)
	}
	if once != twice {
		t.Errorf("normalization not idempotent:\n first = %+v\nsecond = %+v", once, twice)
	}
}

func TestRoundPriceBands(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{50123.456789, 50123.46},
		{1234.567, 1234.57},
		{42.123456789, 42.1235},
		{0.123456789, 0.123457},
		{0.00123456789, 0.00123457},
	}
	for _, tt := range tests {
		if got := RoundPrice(tt.in); got != tt.want {
			t.Errorf("RoundPrice(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSpreadPct(t *testing.T) {
	tk := Ticker{Bid: 99, Ask: 101}
	if got := tk.SpreadPct(); got != 2 {
		t.Errorf("SpreadPct = %v, want 2", got)
	}
	tk = Ticker{Bid: 0, Ask: 101}
	if got := tk.SpreadPct(); got != 0 {
		t.Errorf("missing bid SpreadPct = %v, want 0", got)
	}
}
