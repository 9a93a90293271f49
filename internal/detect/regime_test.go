package detect

import (
	"math"
	"testing"
)

var baseThresholds = Thresholds{
	PriceChangePct:      0.10,
	VelocityPctPerSec:   0.35,
	SpreadWideningRatio: 1.8,
	VolumeSurgeRatio:    1.8,
}

func TestRegimeDefaultsToNormal(t *testing.T) {
	r := NewRegimeTracker(baseThresholds)
	if got := r.RegimeOf("bitcoin"); got != RegimeNormal {
		t.Errorf("unknown symbol regime = %s, want NORMAL", got)
	}
	if got := r.ThresholdsFor("bitcoin"); got != baseThresholds {
		t.Errorf("unknown symbol thresholds = %+v, want base", got)
	}
}

func TestRegimeHoldsBeforeMinSamples(t *testing.T) {
	r := NewRegimeTracker(baseThresholds)
	for i := 0; i < 4; i++ {
		if change := r.Observe("bitcoin", 5.0); change != nil {
			t.Fatalf("transition before %d samples: %+v", minSamples, change)
		}
	}
	if got := r.RegimeOf("bitcoin"); got != RegimeNormal {
		t.Errorf("regime = %s, want NORMAL before enough samples", got)
	}
}

func TestRegimeTransitions(t *testing.T) {
	tests := []struct {
		name  string
		diffs []float64
		want  Regime
	}{
		{"calm on near-constant diffs", []float64{0.1, 0.1, 0.1, 0.1, 0.1}, RegimeCalm},
		{"volatile on sigma above 1.5", []float64{0, 4, 0, 4, 0}, RegimeVolatile},
		{"extreme on sigma above 3", []float64{0, 8, 0, 8, 0}, RegimeExtreme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegimeTracker(baseThresholds)
			var change *RegimeChange
			for _, d := range tt.diffs {
				if c := r.Observe("bitcoin", d); c != nil {
					change = c
				}
			}
			if change == nil {
				t.Fatalf("no transition observed, regime = %s", r.RegimeOf("bitcoin"))
			}
			if change.To != tt.want {
				t.Errorf("transition to %s, want %s (sigma %v)", change.To, tt.want, change.Volatility)
			}
			if change.From != RegimeNormal {
				t.Errorf("transition from %s, want NORMAL", change.From)
			}
			if got := r.RegimeOf("bitcoin"); got != tt.want {
				t.Errorf("regime = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRegimeObserveReportsScaledThresholds(t *testing.T) {
	r := NewRegimeTracker(baseThresholds)

	// Alternating 0/4 yields sigma just under 2: VOLATILE
	var change *RegimeChange
	for _, d := range []float64{0, 4, 0, 4, 0} {
		if c := r.Observe("ethereum", d); c != nil {
			change = c
		}
	}
	if change == nil || change.To != RegimeVolatile {
		t.Fatalf("expected VOLATILE transition, got %+v", change)
	}
	if change.Volatility <= 1.5 || change.Volatility > 3.0 {
		t.Errorf("sigma = %v, want inside the VOLATILE band", change.Volatility)
	}
	if math.Abs(change.Thresholds.PriceChangePct-0.15) > 1e-9 {
		t.Errorf("scaled price threshold = %v, want 0.15", change.Thresholds.PriceChangePct)
	}
}

func TestScaleThresholds(t *testing.T) {
	tests := []struct {
		regime Regime
		want   Thresholds
	}{
		{RegimeCalm, Thresholds{0.04, 0.175, 1.8, 1.08}},
		{RegimeNormal, Thresholds{0.10, 0.35, 1.8, 1.8}},
		{RegimeVolatile, Thresholds{0.15, 0.455, 2.34, 2.52}},
		{RegimeExtreme, Thresholds{0.20, 0.525, 2.7, 3.6}},
	}
	for _, tt := range tests {
		got := ScaleThresholds(baseThresholds, tt.regime)
		if math.Abs(got.PriceChangePct-tt.want.PriceChangePct) > 1e-9 ||
			math.Abs(got.VelocityPctPerSec-tt.want.VelocityPctPerSec) > 1e-9 ||
			math.Abs(got.SpreadWideningRatio-tt.want.SpreadWideningRatio) > 1e-9 ||
			math.Abs(got.VolumeSurgeRatio-tt.want.VolumeSurgeRatio) > 1e-9 {
			t.Errorf("%s: scaled = %+v, want %+v", tt.regime, got, tt.want)
		}
	}
}

func TestRegimeWindowIsBounded(t *testing.T) {
	r := NewRegimeTracker(baseThresholds)

	// Flood with volatile diffs, then with calm ones: the window must
	// forget the old samples and settle back down.
	for i := 0; i < ringCap; i++ {
		r.Observe("bitcoin", 8)
	}
	if got := r.RegimeOf("bitcoin"); got != RegimeCalm {
		// Constant 8s have sigma 0; what matters is old data aging out below
		t.Logf("after constant diffs regime = %s", got)
	}
	for i := 0; i < ringCap; i++ {
		r.Observe("bitcoin", 0.1)
	}
	if got := r.RegimeOf("bitcoin"); got != RegimeCalm {
		t.Errorf("regime after calm flood = %s, want CALM", got)
	}
}

func TestMarketCondition(t *testing.T) {
	tests := []struct {
		regime Regime
		want   string
	}{
		{RegimeVolatile, "volatile"},
		{RegimeExtreme, "volatile"},
		{RegimeCalm, "ranging"},
		{RegimeNormal, "trending"},
	}
	for _, tt := range tests {
		if got := MarketCondition(tt.regime); got != tt.want {
			t.Errorf("MarketCondition(%s) = %s, want %s", tt.regime, got, tt.want)
		}
	}
}
