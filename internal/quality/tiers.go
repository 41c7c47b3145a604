package quality

import (
	"errors"
	"fmt"
	"math"

	"github.com/ahrav/go-convgen/internal/domain"
)

// ErrInvalidWeights indicates criterion weights that are negative or do not
// sum to one.
var ErrInvalidWeights = errors.New("invalid criterion weights")

// ErrInvalidTier indicates tier thresholds with inverted or inconsistent bands.
var ErrInvalidTier = errors.New("invalid tier thresholds")

// weightTolerance absorbs float error when summing configured weights.
const weightTolerance = 1e-9

// Weights are the criterion contributions to the overall score.
type Weights struct {
	TurnCount  float64 `json:"turn_count" mapstructure:"turn_count"`
	Length     float64 `json:"length" mapstructure:"length"`
	Structure  float64 `json:"structure" mapstructure:"structure"`
	Confidence float64 `json:"confidence" mapstructure:"confidence"`
}

// DefaultWeights returns 0.30 turn count, 0.25 length, 0.30 structure and
// 0.15 confidence.
func DefaultWeights() Weights {
	return Weights{TurnCount: 0.30, Length: 0.25, Structure: 0.30, Confidence: 0.15}
}

// Validate checks that every weight is non-negative and that they sum to one.
func (w Weights) Validate() error {
	if w.TurnCount < 0 || w.Length < 0 || w.Structure < 0 || w.Confidence < 0 {
		return fmt.Errorf("%w: weights cannot be negative", ErrInvalidWeights)
	}
	sum := w.TurnCount + w.Length + w.Structure + w.Confidence
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %g, want 1", ErrInvalidWeights, sum)
	}
	return nil
}

// Band is an inclusive range.
type Band struct {
	Min float64 `json:"min" mapstructure:"min"`
	Max float64 `json:"max" mapstructure:"max"`
}

// Contains reports whether v lies within the band.
func (b Band) Contains(v float64) bool { return v >= b.Min && v <= b.Max }

// Range pairs the optimal band with the wider acceptable band.
type Range struct {
	Optimal    Band `json:"optimal" mapstructure:"optimal"`
	Acceptable Band `json:"acceptable" mapstructure:"acceptable"`
}

func (r Range) validate(name string) error {
	if r.Optimal.Min > r.Optimal.Max || r.Acceptable.Min > r.Acceptable.Max {
		return fmt.Errorf("%w: %s band is inverted", ErrInvalidTier, name)
	}
	if r.Acceptable.Min > r.Optimal.Min || r.Acceptable.Max < r.Optimal.Max {
		return fmt.Errorf("%w: %s acceptable band must contain the optimal band", ErrInvalidTier, name)
	}
	return nil
}

// TierThresholds are the scoring bands for one tier.
type TierThresholds struct {
	TurnCount      Range `json:"turn_count" mapstructure:"turn_count"`
	AvgTurnLength  Range `json:"avg_turn_length" mapstructure:"avg_turn_length"`
	MinTotalLength int   `json:"min_total_length" mapstructure:"min_total_length"`
}

// Validate checks band ordering.
func (t TierThresholds) Validate() error {
	if err := t.TurnCount.validate("turn count"); err != nil {
		return err
	}
	if err := t.AvgTurnLength.validate("average turn length"); err != nil {
		return err
	}
	if t.MinTotalLength < 0 {
		return fmt.Errorf("%w: minimum total length cannot be negative", ErrInvalidTier)
	}
	return nil
}

// DefaultTiers returns the built-in thresholds for every tier.
func DefaultTiers() map[domain.Tier]TierThresholds {
	return map[domain.Tier]TierThresholds{
		domain.TierTemplate: {
			TurnCount:      Range{Optimal: Band{8, 16}, Acceptable: Band{6, 20}},
			AvgTurnLength:  Range{Optimal: Band{100, 400}, Acceptable: Band{50, 600}},
			MinTotalLength: 1000,
		},
		domain.TierScenario: {
			TurnCount:      Range{Optimal: Band{10, 20}, Acceptable: Band{8, 24}},
			AvgTurnLength:  Range{Optimal: Band{150, 500}, Acceptable: Band{80, 700}},
			MinTotalLength: 1500,
		},
		domain.TierEdgeCase: {
			TurnCount:      Range{Optimal: Band{6, 12}, Acceptable: Band{4, 16}},
			AvgTurnLength:  Range{Optimal: Band{120, 450}, Acceptable: Band{60, 650}},
			MinTotalLength: 800,
		},
	}
}
