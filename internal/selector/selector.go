package selector

import (
	"fmt"
	"sort"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/strategy"
)

// ConsensusStrength grades how unified the bank was behind the winner
type ConsensusStrength string

const (
	ConsensusStrong   ConsensusStrength = "STRONG"
	ConsensusModerate ConsensusStrength = "MODERATE"
	ConsensusWeak     ConsensusStrength = "WEAK"
)

// Candidate is a scored verdict inside a selection
type Candidate struct {
	Verdict            *strategy.Verdict
	AdjustedConfidence float64
	QualityScore       float64
	RejectReason       string // set on losers
}

// Selection is the selector's full output for one fan-out
type Selection struct {
	Winner          *strategy.Verdict
	AdjustedWinner  float64 // winner's reputation-adjusted confidence
	Consensus       ConsensusStrength
	ConsensusPct    float64
	Candidates      []Candidate
	SelectionReason string
}

// Selector implements the majority-direction, quality-scored winner pick
type Selector struct {
	reputation *Reputation
	logger     *logging.Logger
}

// NewSelector creates a selector backed by the reputation tracker
func NewSelector(reputation *Reputation, logger *logging.Logger) *Selector {
	return &Selector{
		reputation: reputation,
		logger:     logger.WithComponent("selector"),
	}
}

// Select picks at most one winner from the non-rejected verdicts. A nil
// return means no winner: empty input or a conflicted direction split.
func (s *Selector) Select(symbol string, verdicts []*strategy.Verdict, condition string) *Selection {
	valid := make([]*strategy.Verdict, 0, len(verdicts))
	for _, v := range verdicts {
		if v != nil && !v.Rejected {
			valid = append(valid, v)
		}
	}

	if len(valid) == 0 {
		return nil
	}

	if len(valid) == 1 {
		return s.single(symbol, valid[0], condition)
	}

	var longs, shorts int
	for _, v := range valid {
		if v.Direction == strategy.Long {
			longs++
		} else {
			shorts++
		}
	}

	total := longs + shorts
	majority := (total + 1) / 2

	var dominant strategy.Direction
	var dominantCount int
	switch {
	case longs >= majority && longs > shorts:
		dominant = strategy.Long
		dominantCount = longs
	case shorts >= majority && shorts > longs:
		dominant = strategy.Short
		dominantCount = shorts
	default:
		s.logger.Debug("Conflicted verdicts, no winner",
			"symbol", symbol,
			"longs", longs,
			"shorts", shorts)
		return nil
	}

	consensusPct := float64(dominantCount) / float64(total) * 100
	consensus := ConsensusWeak
	switch {
	case consensusPct >= 80:
		consensus = ConsensusStrong
	case consensusPct >= 60:
		consensus = ConsensusModerate
	}

	candidates := make([]Candidate, 0, dominantCount)
	consensusComponent := float64(dominantCount) / float64(total) * 30

	for _, v := range valid {
		if v.Direction != dominant {
			continue
		}
		adjusted, _, _ := s.reputation.AdjustConfidence(v.Strategy, v.Confidence, condition)
		score := adjusted/100*40 +
			consensusComponent +
			riskRewardComponent(v.RiskReward) +
			strengthComponent(v.Strength)
		candidates = append(candidates, Candidate{
			Verdict:            v,
			AdjustedConfidence: adjusted,
			QualityScore:       score,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].QualityScore > candidates[j].QualityScore
	})

	for i := range candidates {
		if i > 0 {
			candidates[i].RejectReason = "lower quality"
		}
	}

	winner := candidates[0]
	sel := &Selection{
		Winner:         winner.Verdict,
		AdjustedWinner: winner.AdjustedConfidence,
		Consensus:      consensus,
		ConsensusPct:   consensusPct,
		Candidates:     candidates,
		SelectionReason: fmt.Sprintf(
			"%s consensus %.0f%% (%d/%d); winner %s at %.0f confidence, R/R %.1f, %s",
			dominant, consensusPct, dominantCount, total,
			winner.Verdict.Strategy, winner.AdjustedConfidence,
			winner.Verdict.RiskReward, winner.Verdict.Strength),
	}

	s.logger.Info("Winner selected",
		"symbol", symbol,
		"strategy", winner.Verdict.Strategy,
		"direction", string(dominant),
		"quality_score", winner.QualityScore,
		"consensus_pct", consensusPct)
	return sel
}

func (s *Selector) single(symbol string, v *strategy.Verdict, condition string) *Selection {
	adjusted, _, _ := s.reputation.AdjustConfidence(v.Strategy, v.Confidence, condition)
	score := adjusted/100*40 + 30 + riskRewardComponent(v.RiskReward) + strengthComponent(v.Strength)
	return &Selection{
		Winner:         v,
		AdjustedWinner: adjusted,
		Consensus:      ConsensusWeak,
		ConsensusPct:   100,
		Candidates: []Candidate{{
			Verdict:            v,
			AdjustedConfidence: adjusted,
			QualityScore:       score,
		}},
		SelectionReason: fmt.Sprintf(
			"single verdict; %s %s at %.0f confidence, R/R %.1f",
			v.Strategy, v.Direction, adjusted, v.RiskReward),
	}
}

// riskRewardComponent maps R/R onto 0..20: nothing below 1, 10 at 2, 15 at
// 3, capped at 20 from 4 up, linear between the knees.
func riskRewardComponent(rr float64) float64 {
	switch {
	case rr <= 1:
		return 0
	case rr <= 2:
		return (rr - 1) * 10
	case rr <= 3:
		return 10 + (rr-2)*5
	case rr <= 4:
		return 15 + (rr-3)*5
	default:
		return 20
	}
}

func strengthComponent(s strategy.Strength) float64 {
	switch s {
	case strategy.StrengthStrong:
		return 10
	case strategy.StrengthModerate:
		return 6
	default:
		return 3
	}
}
