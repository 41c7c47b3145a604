// Package quality scores generated conversations.
//
// A Scorer grades four criteria (turn count, length, structure and
// confidence) against tier-specific bands and combines them into a 0 to 10
// overall score. Scoring is pure: the same input always yields the same
// score and nothing is retained between calls, so one Scorer may be shared
// across goroutines.
package quality

import (
	"fmt"
	"maps"
	"math"

	"github.com/ahrav/go-convgen/internal/domain"
)

// FlagThreshold is the overall score below which a conversation is flagged.
const FlagThreshold = 6.0

// LowDimensionConfidence is the dimension confidence below which a
// conversation is flagged regardless of its score.
const LowDimensionConfidence = 0.5

// Scorer computes quality scores.
type Scorer struct {
	weights Weights
	tiers   map[domain.Tier]TierThresholds
}

// Option customizes a Scorer.
type Option func(*Scorer)

// WithWeights overrides the criterion weights.
func WithWeights(w Weights) Option {
	return func(s *Scorer) { s.weights = w }
}

// WithTiers overrides thresholds for the given tiers. Tiers not present keep
// their defaults.
func WithTiers(tiers map[domain.Tier]TierThresholds) Option {
	return func(s *Scorer) { maps.Copy(s.tiers, tiers) }
}

// NewScorer returns a Scorer with default weights and tiers unless overridden.
func NewScorer(opts ...Option) (*Scorer, error) {
	s := &Scorer{weights: DefaultWeights(), tiers: DefaultTiers()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.weights.Validate(); err != nil {
		return nil, err
	}
	for tier, th := range s.tiers {
		if !tier.Valid() {
			return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidTier, tier)
		}
		if err := th.Validate(); err != nil {
			return nil, fmt.Errorf("tier %s: %w", tier, err)
		}
	}
	return s, nil
}

// Weights returns the criterion weights in use.
func (s *Scorer) Weights() Weights { return s.weights }

// Thresholds returns the bands for tier. Unknown tiers use the template bands.
func (s *Scorer) Thresholds(tier domain.Tier) TierThresholds {
	if th, ok := s.tiers[tier]; ok {
		return th
	}
	return s.tiers[domain.TierTemplate]
}

// Score grades data. dimensionConfidence, when non-nil, is an external
// confidence in [0,1] that nudges the overall score and can force a flag.
func (s *Scorer) Score(data domain.ConversationData, dimensionConfidence *float64) domain.QualityScore {
	th := s.Thresholds(data.Tier)

	breakdown := domain.Breakdown{
		TurnCount:  evaluateTurnCount(data, th, s.weights.TurnCount),
		Length:     evaluateLength(data, th, s.weights.Length),
		Structure:  evaluateStructure(data.Turns, s.weights.Structure),
		Confidence: evaluateConfidence(data, s.weights.Confidence),
	}

	overall := breakdown.TurnCount.Score*s.weights.TurnCount +
		breakdown.Length.Score*s.weights.Length +
		breakdown.Structure.Score*s.weights.Structure +
		breakdown.Confidence.Score*s.weights.Confidence

	var dim *float64
	if dimensionConfidence != nil {
		c := *dimensionConfidence
		dim = &c
		overall += dimensionAdjustment(c)
	}
	overall = round1(clamp(overall, 0, 10))

	return domain.QualityScore{
		Overall:             overall,
		Breakdown:           breakdown,
		AutoFlagged:         overall < FlagThreshold || (dim != nil && *dim < LowDimensionConfidence),
		DimensionConfidence: dim,
	}
}

// dimensionAdjustment adds up to one point for confidence of at least 0.8 and
// removes up to two points below 0.5.
func dimensionAdjustment(c float64) float64 {
	switch {
	case c >= 0.8:
		return math.Min((c-0.8)*5, 1)
	case c < 0.5:
		return -math.Min((0.5-c)*4, 2)
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
