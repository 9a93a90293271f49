package selector

import (
	"math"
	"testing"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/strategy"
)

func newTestSelector() *Selector {
	logger := logging.New(&logging.Config{Level: "ERROR", Component: "test"})
	return NewSelector(NewReputation(logger), logger)
}

func verdict(name string, dir strategy.Direction, confidence, rr float64, strength strategy.Strength) *strategy.Verdict {
	return &strategy.Verdict{
		Symbol:     "bitcoin",
		Strategy:   name,
		Direction:  dir,
		Confidence: confidence,
		RiskReward: rr,
		Strength:   strength,
	}
}

func TestSelectEmptyAndRejected(t *testing.T) {
	s := newTestSelector()

	if sel := s.Select("bitcoin", nil, "trending"); sel != nil {
		t.Errorf("empty input selection = %+v, want nil", sel)
	}

	rejected := []*strategy.Verdict{
		strategy.Reject("bitcoin", "A", "too quiet"),
		strategy.Reject("bitcoin", "B", "no edge"),
		nil,
	}
	if sel := s.Select("bitcoin", rejected, "trending"); sel != nil {
		t.Errorf("all-rejected selection = %+v, want nil", sel)
	}
}

func TestSelectSingleVerdictIsWeak(t *testing.T) {
	s := newTestSelector()
	v := verdict("A", strategy.Long, 80, 2.5, strategy.StrengthModerate)

	sel := s.Select("bitcoin", []*strategy.Verdict{v}, "trending")
	if sel == nil {
		t.Fatal("selection = nil, want single winner")
	}
	if sel.Winner != v {
		t.Errorf("winner = %v, want the sole verdict", sel.Winner.Strategy)
	}
	if sel.Consensus != ConsensusWeak {
		t.Errorf("consensus = %s, want WEAK for a single verdict", sel.Consensus)
	}
}

func TestSelectConflictedSplit(t *testing.T) {
	s := newTestSelector()
	verdicts := []*strategy.Verdict{
		verdict("A", strategy.Long, 80, 2, strategy.StrengthStrong),
		verdict("B", strategy.Short, 75, 2, strategy.StrengthStrong),
	}
	if sel := s.Select("bitcoin", verdicts, "trending"); sel != nil {
		t.Errorf("1-1 split selection = %+v, want nil", sel)
	}
}

func TestSelectMajorityWinnerScore(t *testing.T) {
	s := newTestSelector()
	// 3 LONG vs 1 SHORT: 75% consensus (MODERATE). The best long scores
	// 70/100*40 + 3/4*30 + 20 + 10 = 80.5.
	verdicts := []*strategy.Verdict{
		verdict("A", strategy.Long, 70, 4.0, strategy.StrengthStrong),
		verdict("B", strategy.Long, 60, 2.0, strategy.StrengthModerate),
		verdict("C", strategy.Long, 55, 1.5, strategy.StrengthWeak),
		verdict("D", strategy.Short, 90, 3.0, strategy.StrengthStrong),
	}

	sel := s.Select("bitcoin", verdicts, "trending")
	if sel == nil {
		t.Fatal("selection = nil, want LONG majority winner")
	}
	if sel.Winner.Strategy != "A" {
		t.Fatalf("winner = %s, want A", sel.Winner.Strategy)
	}
	if sel.Consensus != ConsensusModerate {
		t.Errorf("consensus = %s, want MODERATE at 75%%", sel.Consensus)
	}
	if math.Abs(sel.ConsensusPct-75) > 1e-9 {
		t.Errorf("consensus pct = %v, want 75", sel.ConsensusPct)
	}
	if math.Abs(sel.Candidates[0].QualityScore-80.5) > 1e-9 {
		t.Errorf("winner score = %v, want 80.5", sel.Candidates[0].QualityScore)
	}

	// The opposing verdict never becomes a candidate; losing longs carry a
	// rejection reason.
	if len(sel.Candidates) != 3 {
		t.Fatalf("candidates = %d, want 3 dominant-direction entries", len(sel.Candidates))
	}
	for i, c := range sel.Candidates {
		if i == 0 && c.RejectReason != "" {
			t.Errorf("winner carries reject reason %q", c.RejectReason)
		}
		if i > 0 && c.RejectReason == "" {
			t.Errorf("loser %s missing reject reason", c.Verdict.Strategy)
		}
	}
}

func TestSelectStrongConsensus(t *testing.T) {
	s := newTestSelector()
	verdicts := []*strategy.Verdict{
		verdict("A", strategy.Short, 70, 2, strategy.StrengthStrong),
		verdict("B", strategy.Short, 68, 2, strategy.StrengthModerate),
		verdict("C", strategy.Short, 66, 2, strategy.StrengthModerate),
		verdict("D", strategy.Short, 72, 2, strategy.StrengthStrong),
	}
	sel := s.Select("bitcoin", verdicts, "volatile")
	if sel == nil {
		t.Fatal("selection = nil, want unanimous SHORT winner")
	}
	if sel.Consensus != ConsensusStrong {
		t.Errorf("consensus = %s, want STRONG at 100%%", sel.Consensus)
	}
	if sel.Winner.Direction != strategy.Short {
		t.Errorf("winner direction = %s, want SHORT", sel.Winner.Direction)
	}
}

func TestSelectReputationShiftsWinner(t *testing.T) {
	logger := logging.New(&logging.Config{Level: "ERROR", Component: "test"})
	rep := NewReputation(logger)
	s := NewSelector(rep, logger)

	// B's hot record (factor 1.2) should overcome A's slightly higher raw
	// confidence: A scores 70*0.4=28 raw, B scores 68*1.2=81.6 -> 32.64.
	report(t, rep, "B", "trending",
		OutcomeWinTP1, OutcomeWinTP1, OutcomeWinTP2, OutcomeWinTP3, OutcomeTimeoutProfit)

	verdicts := []*strategy.Verdict{
		verdict("A", strategy.Long, 70, 2, strategy.StrengthModerate),
		verdict("B", strategy.Long, 68, 2, strategy.StrengthModerate),
	}
	sel := s.Select("bitcoin", verdicts, "trending")
	if sel == nil {
		t.Fatal("selection = nil")
	}
	if sel.Winner.Strategy != "B" {
		t.Errorf("winner = %s, want reputation-boosted B", sel.Winner.Strategy)
	}
	if math.Abs(sel.AdjustedWinner-81.6) > 1e-9 {
		t.Errorf("adjusted winner confidence = %v, want 81.6", sel.AdjustedWinner)
	}
}

func TestRiskRewardComponent(t *testing.T) {
	tests := []struct {
		rr   float64
		want float64
	}{
		{0.5, 0},
		{1, 0},
		{1.5, 5},
		{2, 10},
		{2.5, 12.5},
		{3, 15},
		{4, 20},
		{6, 20},
	}
	for _, tt := range tests {
		if got := riskRewardComponent(tt.rr); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("riskRewardComponent(%v) = %v, want %v", tt.rr, got, tt.want)
		}
	}
}
