package quality

import (
	"fmt"
	"strings"

	"github.com/ahrav/go-convgen/internal/domain"
)

// Criterion names used by targeted recommendations and priorities.
const (
	CriterionTurnCount  = "turn_count"
	CriterionLength     = "length"
	CriterionStructure  = "structure"
	CriterionConfidence = "confidence"
)

// recommendThreshold is the criterion score below which advice is given.
const recommendThreshold = 7.0

// targetedThreshold is the criterion score below which a criterion is listed
// in targeted recommendations.
const targetedThreshold = 8.0

// Recommendations returns ordered, human-readable advice for s. The result
// depends only on s.
func Recommendations(s domain.QualityScore) []string {
	recs := []string{}

	switch {
	case s.Overall < FlagThreshold:
		recs = append(recs, "Critical: This conversation requires revision before use in training data")
	case s.Overall < 8:
		recs = append(recs, "Consider reviewing and improving this conversation for better training quality")
	}

	recs = append(recs, turnCountAdvice(s.Breakdown.TurnCount)...)
	recs = append(recs, lengthAdvice(s.Breakdown.Length)...)
	recs = append(recs, structureAdvice(s.Breakdown.Structure)...)
	recs = append(recs, confidenceAdvice(s.Breakdown.Confidence)...)

	if s.Overall >= 7 && s.Overall < 9 {
		recs = append(recs, "Tip: Small improvements in conversation flow could push this to excellent quality")
	}
	return recs
}

// TargetedRecommendations groups advice by criterion for every criterion
// scoring below 8.
func TargetedRecommendations(s domain.QualityScore) map[string][]string {
	b := s.Breakdown
	out := make(map[string][]string)
	if b.TurnCount.Score < targetedThreshold {
		out[CriterionTurnCount] = turnCountAdvice(b.TurnCount)
	}
	if b.Length.Score < targetedThreshold {
		out[CriterionLength] = lengthAdvice(b.Length)
	}
	if b.Structure.Score < targetedThreshold {
		out[CriterionStructure] = structureAdvice(b.Structure)
	}
	if b.Confidence.Score < targetedThreshold {
		out[CriterionConfidence] = confidenceAdvice(b.Confidence)
	}
	return out
}

// Priority sorts criteria by how urgently they need work.
type Priority struct {
	Critical  []string `json:"critical"`
	Important []string `json:"important"`
	Optional  []string `json:"optional"`
}

// ImprovementPriority ranks each criterion. Invalid structure and low
// confidence are always critical.
func ImprovementPriority(s domain.QualityScore) Priority {
	b := s.Breakdown
	p := Priority{Critical: []string{}, Important: []string{}, Optional: []string{}}

	if !b.Structure.Valid {
		p.Critical = append(p.Critical, CriterionStructure)
	}
	p.bucket(CriterionTurnCount, b.TurnCount.Score, false)
	p.bucket(CriterionLength, b.Length.Score, false)
	p.bucket(CriterionConfidence, b.Confidence.Score, b.Confidence.Level == domain.ConfidenceLow)
	return p
}

func (p *Priority) bucket(name string, score float64, critical bool) {
	switch {
	case critical || score < 5:
		p.Critical = append(p.Critical, name)
	case score < 7:
		p.Important = append(p.Important, name)
	case score < 9:
		p.Optional = append(p.Optional, name)
	}
}

func optimalRange(target string) string {
	r, _, _ := strings.Cut(target, " (optimal)")
	return r
}

func turnCountAdvice(c domain.TurnCountCriterion) []string {
	if c.Score >= recommendThreshold {
		return nil
	}
	rng := optimalRange(c.Target)
	if c.Status != domain.CriterionPoor {
		return []string{fmt.Sprintf("Turn Count: %s. Optimal range is %s turns.", c.Message, rng)}
	}
	if c.Actual < c.OptimalMin {
		return []string{fmt.Sprintf(
			"Turn Count: Current conversation has only %d turns. Aim for %s turns for better context coverage. "+
				"Consider adding follow-up questions or expanding topics.", c.Actual, rng)}
	}
	return []string{fmt.Sprintf(
		"Turn Count: Conversation has %d turns, which is excessive. "+
			"Target %s turns by removing redundant exchanges or consolidating responses.", c.Actual, rng)}
}

func lengthAdvice(c domain.LengthCriterion) []string {
	if c.Score >= recommendThreshold {
		return nil
	}
	if c.Status != domain.CriterionPoor {
		return []string{fmt.Sprintf("Turn Length: %s. Target %s.", c.Message, c.Target)}
	}
	switch c.Message {
	case msgTurnsTooShort:
		return []string{fmt.Sprintf(
			"Turn Length: Average turn length is %d characters, which is too short. "+
				"Responses should provide more detail and context. Aim for %s.", c.AvgTurnLength, c.Target)}
	case msgTurnsTooLong:
		return []string{fmt.Sprintf(
			"Turn Length: Average turn length is %d characters, which is too long. "+
				"Consider making responses more concise and focused. Target %s.", c.AvgTurnLength, c.Target)}
	default:
		return []string{fmt.Sprintf(
			"Turn Length: Overall conversation length (%d chars) is insufficient. "+
				"Develop topics more thoroughly to provide better training examples.", c.TotalChars)}
	}
}

// structureSuggestions pairs an issue fragment with its fix.
var structureSuggestions = []struct{ match, fix string }{
	{"does not start with user", "Ensure conversation begins with a user message"},
	{"alternation", "Fix role alternation - user and assistant should take turns"},
	{"empty turn", "Remove or populate empty turns with content"},
	{"very short turn", "Expand very short turns to provide meaningful content"},
	{"Imbalanced", "Balance the number of user and assistant turns"},
	{"No turns", "Regenerate the conversation; the response contained no turns"},
}

func structureAdvice(c domain.StructureCriterion) []string {
	if c.Valid || len(c.Issues) == 0 {
		return nil
	}
	out := []string{fmt.Sprintf("Structure Issues: %d structural problem(s) detected:", len(c.Issues))}
	for i, issue := range c.Issues {
		line := fmt.Sprintf("  %d. %s", i+1, issue)
		for _, s := range structureSuggestions {
			if strings.Contains(issue, s.match) {
				line += " -> " + s.fix
				break
			}
		}
		out = append(out, line)
	}
	return out
}

var confidenceSuggestions = map[string]string{
	factorLowVariation: "Vary responses and avoid repeating similar content",
	factorInconsistent: "Maintain more consistent response lengths throughout",
	factorTooManyQs:    "Balance questions with informative statements",
}

func confidenceAdvice(c domain.ConfidenceCriterion) []string {
	var out []string
	switch {
	case c.Level == domain.ConfidenceLow:
		out = append(out, "Confidence Level: Low confidence detected. This conversation may have quality issues:")
		for _, f := range c.Factors {
			if f.Impact != domain.ImpactNegative {
				continue
			}
			line := fmt.Sprintf("  - %s: %s", f.Factor, f.Description)
			if fix, ok := confidenceSuggestions[f.Factor]; ok {
				line += " -> " + fix
			}
			out = append(out, line)
		}
	case c.Level == domain.ConfidenceMedium && c.Score < recommendThreshold:
		out = append(out, "Confidence: Medium confidence. Consider these improvements:")
		for _, f := range c.Factors {
			if f.Impact == domain.ImpactNegative {
				out = append(out, fmt.Sprintf("  - %s: %s", f.Factor, f.Description))
			}
		}
	}
	return out
}
