package quality

import (
	"fmt"
	"strings"

	"github.com/ahrav/go-convgen/internal/domain"
)

// criterionFlagScore is the criterion score below which a criterion is named
// as a flag reason.
const criterionFlagScore = 6.0

// FlagDecision is the outcome of EvaluateFlag. Callers apply it; evaluation
// itself has no side effects.
type FlagDecision struct {
	Flag    bool                `json:"flag"`
	Reasons []domain.FlagReason `json:"reasons"`
	Note    string              `json:"note"`
}

// EvaluateFlag decides whether s should be flagged for revision and explains why.
func EvaluateFlag(s domain.QualityScore) FlagDecision {
	flag := s.AutoFlagged || s.Overall < FlagThreshold ||
		(s.DimensionConfidence != nil && *s.DimensionConfidence < LowDimensionConfidence)
	if !flag {
		return FlagDecision{}
	}

	b := s.Breakdown
	var reasons []domain.FlagReason
	var issues []string

	if b.TurnCount.Score < criterionFlagScore {
		reasons = append(reasons, domain.FlagInsufficientTurns)
		issues = append(issues, "Turn count: "+b.TurnCount.Message)
	}
	if b.Length.Score < criterionFlagScore {
		reasons = append(reasons, domain.FlagInadequateLength)
		issues = append(issues, "Length: "+b.Length.Message)
	}
	if !b.Structure.Valid {
		reasons = append(reasons, domain.FlagStructuralIssues)
		issues = append(issues, "Structure: "+strings.Join(b.Structure.Issues, ", "))
	}
	lowDim := s.DimensionConfidence != nil && *s.DimensionConfidence < LowDimensionConfidence
	if b.Confidence.Level == domain.ConfidenceLow || lowDim {
		reasons = append(reasons, domain.FlagLowConfidence)
		if b.Confidence.Level == domain.ConfidenceLow {
			issues = append(issues, "Confidence: Low confidence level detected")
		}
		if lowDim {
			issues = append(issues, fmt.Sprintf("Confidence: Dimension confidence %.2f is below %.1f",
				*s.DimensionConfidence, LowDimensionConfidence))
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, domain.FlagLowOverall)
		issues = append(issues, fmt.Sprintf("Overall: Quality score is below %.1f", FlagThreshold))
	}

	return FlagDecision{Flag: true, Reasons: reasons, Note: flagNote(s.Overall, issues)}
}

func flagNote(overall float64, issues []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Auto-flagged for revision (Quality Score: %.1f/10).\n\nIssues identified:\n", overall)
	for i, issue := range issues {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, issue)
	}
	sb.WriteString("\nReview and improve this conversation before including in training data.")
	return sb.String()
}
