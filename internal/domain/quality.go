package domain

// CriterionStatus grades a banded criterion.
type CriterionStatus string

// Criterion statuses.
const (
	CriterionOptimal    CriterionStatus = "optimal"
	CriterionAcceptable CriterionStatus = "acceptable"
	CriterionPoor       CriterionStatus = "poor"
)

// ConfidenceLevel buckets the confidence criterion score.
type ConfidenceLevel string

// Confidence levels.
const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// TurnCountCriterion scores the number of turns against the tier band.
type TurnCountCriterion struct {
	Score      float64         `json:"score"`
	Weight     float64         `json:"weight"`
	Actual     int             `json:"actual"`
	OptimalMin int             `json:"optimal_min"`
	OptimalMax int             `json:"optimal_max"`
	Target     string          `json:"target"`
	Status     CriterionStatus `json:"status"`
	Message    string          `json:"message"`
}

// LengthCriterion scores total and average turn length.
type LengthCriterion struct {
	Score         float64         `json:"score"`
	Weight        float64         `json:"weight"`
	TotalChars    int             `json:"total_chars"`
	AvgTurnLength int             `json:"avg_turn_length"`
	Target        string          `json:"target"`
	Status        CriterionStatus `json:"status"`
	Message       string          `json:"message"`
}

// StructureCriterion scores role alternation and turn hygiene.
type StructureCriterion struct {
	Score   float64  `json:"score"`
	Weight  float64  `json:"weight"`
	Valid   bool     `json:"valid"`
	Issues  []string `json:"issues"`
	Message string   `json:"message"`
}

// ConfidenceImpact is the direction a confidence factor moved the score.
type ConfidenceImpact string

// Confidence impacts.
const (
	ImpactPositive ConfidenceImpact = "positive"
	ImpactNegative ConfidenceImpact = "negative"
)

// ConfidenceFactor is one contributor to the confidence criterion.
type ConfidenceFactor struct {
	Factor      string           `json:"factor"`
	Impact      ConfidenceImpact `json:"impact"`
	Description string           `json:"description"`
}

// ConfidenceCriterion scores heuristic signals of a natural conversation.
type ConfidenceCriterion struct {
	Score   float64            `json:"score"`
	Weight  float64            `json:"weight"`
	Level   ConfidenceLevel    `json:"level"`
	Factors []ConfidenceFactor `json:"factors"`
	Message string             `json:"message"`
}

// Breakdown holds the four criterion results.
type Breakdown struct {
	TurnCount  TurnCountCriterion  `json:"turn_count"`
	Length     LengthCriterion     `json:"length"`
	Structure  StructureCriterion  `json:"structure"`
	Confidence ConfidenceCriterion `json:"confidence"`
}

// QualityScore is the scorer output. Recommendations are filled in by the
// pipeline, not the scorer.
type QualityScore struct {
	Overall             float64   `json:"overall"`
	Breakdown           Breakdown `json:"breakdown"`
	AutoFlagged         bool      `json:"auto_flagged"`
	DimensionConfidence *float64  `json:"dimension_confidence,omitempty"`
	Recommendations     []string  `json:"recommendations,omitempty"`
}
