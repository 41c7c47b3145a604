package quality

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/ahrav/go-convgen/internal/domain"
)

// Banded scoring constants.
const (
	scoreOptimal      = 10.0
	scoreAcceptableHi = 7.0
	scoreAcceptableLo = 5.0
	scoreTooLow       = 3.0
	scoreTooHigh      = 4.0
)

// Structure deductions.
const (
	deductFirstNotUser   = 2.0
	deductAlternation    = 1.5
	deductEmptyTurn      = 2.0
	deductShortTurn      = 0.5
	deductImbalance      = 1.0
	shortTurnChars       = 10
	maxRoleImbalance     = 1
	uniquePrefixChars    = 50
	completeEndingLength = 50
)

// Confidence heuristics.
const (
	confidenceBase = 7.0

	highVariation    = 0.9
	lowVariation     = 0.6
	consistentCV     = 0.5
	inconsistentCV   = 1.5
	questionRateLow  = 0.2
	questionRateHigh = 0.5
	questionRateMax  = 0.7

	highConfidenceScore   = 8.0
	mediumConfidenceScore = 5.0
)

// position grades v against r.
type position int

const (
	inOptimal position = iota
	belowOptimal
	aboveOptimal
	tooLow
	tooHigh
)

// grade scores v against r. Inside the acceptable band the score falls
// linearly from 7 at the optimal edge to 5 at the acceptable edge.
func grade(v float64, r Range) (float64, position) {
	switch {
	case r.Optimal.Contains(v):
		return scoreOptimal, inOptimal
	case r.Acceptable.Contains(v) && v < r.Optimal.Min:
		return interpolate(r.Optimal.Min-v, r.Optimal.Min-r.Acceptable.Min), belowOptimal
	case r.Acceptable.Contains(v):
		return interpolate(v-r.Optimal.Max, r.Acceptable.Max-r.Optimal.Max), aboveOptimal
	case v < r.Acceptable.Min:
		return scoreTooLow, tooLow
	default:
		return scoreTooHigh, tooHigh
	}
}

func interpolate(distance, maxDistance float64) float64 {
	if maxDistance <= 0 {
		return scoreAcceptableHi
	}
	return scoreAcceptableHi - (distance/maxDistance)*(scoreAcceptableHi-scoreAcceptableLo)
}

func statusFor(p position) domain.CriterionStatus {
	switch p {
	case inOptimal:
		return domain.CriterionOptimal
	case belowOptimal, aboveOptimal:
		return domain.CriterionAcceptable
	default:
		return domain.CriterionPoor
	}
}

// turnTotal prefers the declared total and falls back to the turns present.
func turnTotal(data domain.ConversationData) int {
	if data.TotalTurns > 0 {
		return data.TotalTurns
	}
	return len(data.Turns)
}

func evaluateTurnCount(data domain.ConversationData, th TierThresholds, weight float64) domain.TurnCountCriterion {
	actual := turnTotal(data)
	score, pos := grade(float64(actual), th.TurnCount)

	messages := map[position]string{
		inOptimal:    "Turn count is within optimal range",
		belowOptimal: "Turn count is slightly below optimal",
		aboveOptimal: "Turn count is slightly above optimal",
		tooLow:       "Turn count is too low - conversation may be too brief",
		tooHigh:      "Turn count is too high - conversation may be too lengthy",
	}

	r := th.TurnCount
	return domain.TurnCountCriterion{
		Score:      round1(score),
		Weight:     weight,
		Actual:     actual,
		OptimalMin: int(r.Optimal.Min),
		OptimalMax: int(r.Optimal.Max),
		Target: fmt.Sprintf("%g-%g (optimal), %g-%g (acceptable)",
			r.Optimal.Min, r.Optimal.Max, r.Acceptable.Min, r.Acceptable.Max),
		Status:  statusFor(pos),
		Message: messages[pos],
	}
}

// Length messages that recommendations key on.
const (
	msgTurnsTooShort = "Turn length is too short - responses lack detail"
	msgTurnsTooLong  = "Turn length is too long - responses may be overly verbose"
)

func evaluateLength(data domain.ConversationData, th TierThresholds, weight float64) domain.LengthCriterion {
	total := 0
	for _, t := range data.Turns {
		total += chars(t.Content)
	}
	var avg float64
	if n := turnTotal(data); n > 0 {
		avg = float64(total) / float64(n)
	}

	c := domain.LengthCriterion{
		Weight:        weight,
		TotalChars:    total,
		AvgTurnLength: int(math.Round(avg)),
		Target:        fmt.Sprintf("%g-%g chars/turn (optimal)", th.AvgTurnLength.Optimal.Min, th.AvgTurnLength.Optimal.Max),
	}

	if total < th.MinTotalLength {
		c.Score = scoreTooLow
		c.Status = domain.CriterionPoor
		c.Message = "Overall conversation length is too short"
		return c
	}

	score, pos := grade(avg, th.AvgTurnLength)
	messages := map[position]string{
		inOptimal:    "Turn length is within optimal range",
		belowOptimal: "Turn length is slightly below optimal",
		aboveOptimal: "Turn length is slightly above optimal",
		tooLow:       msgTurnsTooShort,
		tooHigh:      msgTurnsTooLong,
	}
	c.Score = round1(score)
	c.Status = statusFor(pos)
	c.Message = messages[pos]
	return c
}

// Structure issue texts. Recommendations match on these prefixes and suffixes.
const (
	issueNoTurns      = "No turns found in conversation"
	issueNotUserFirst = "Conversation does not start with user message"
)

func evaluateStructure(turns []domain.Turn, weight float64) domain.StructureCriterion {
	if len(turns) == 0 {
		return domain.StructureCriterion{
			Score:   0,
			Weight:  weight,
			Valid:   false,
			Issues:  []string{issueNoTurns},
			Message: "Conversation has no turns",
		}
	}

	score := 10.0
	issues := []string{}

	if turns[0].Role != domain.RoleUser {
		issues = append(issues, issueNotUserFirst)
		score -= deductFirstNotUser
	}

	for i := 1; i < len(turns); i++ {
		if turns[i].Role == turns[i-1].Role {
			issues = append(issues, fmt.Sprintf("Improper role alternation at turn %d", i+1))
			score -= deductAlternation
			break
		}
	}

	var empty, short, users, assistants int
	for _, t := range turns {
		trimmed := chars(strings.TrimSpace(t.Content))
		if trimmed == 0 {
			empty++
		}
		if trimmed < shortTurnChars {
			short++
		}
		switch t.Role {
		case domain.RoleUser:
			users++
		case domain.RoleAssistant:
			assistants++
		}
	}

	if empty > 0 {
		issues = append(issues, fmt.Sprintf("%d empty turn(s) found", empty))
		score -= float64(empty) * deductEmptyTurn
	}
	if short > 0 {
		issues = append(issues, fmt.Sprintf("%d very short turn(s) (< %d chars)", short, shortTurnChars))
		score -= float64(short) * deductShortTurn
	}
	if diff := users - assistants; diff > maxRoleImbalance || diff < -maxRoleImbalance {
		issues = append(issues, fmt.Sprintf("Imbalanced turn distribution (%d user, %d assistant)", users, assistants))
		score -= deductImbalance
	}

	msg := "Conversation structure is valid"
	if len(issues) > 0 {
		msg = fmt.Sprintf("%d structural issue(s) found", len(issues))
	}

	return domain.StructureCriterion{
		Score:   round1(math.Max(0, score)),
		Weight:  weight,
		Valid:   len(issues) == 0,
		Issues:  issues,
		Message: msg,
	}
}

// Confidence factor names.
const (
	factorHighVariation  = "High Response Variation"
	factorLowVariation   = "Low Response Variation"
	factorConsistent     = "Consistent Turn Lengths"
	factorInconsistent   = "Inconsistent Turn Lengths"
	factorNaturalFlow    = "Natural Question Flow"
	factorTooManyQs      = "Too Many Questions"
	factorCompleteEnding = "Complete Ending"
)

func evaluateConfidence(data domain.ConversationData, weight float64) domain.ConfidenceCriterion {
	score := confidenceBase
	factors := []domain.ConfidenceFactor{}
	add := func(name string, impact domain.ConfidenceImpact, desc string, delta float64) {
		score += delta
		factors = append(factors, domain.ConfidenceFactor{Factor: name, Impact: impact, Description: desc})
	}

	turns := data.Turns
	if len(turns) > 0 {
		prefixes := make(map[string]struct{}, len(turns))
		for _, t := range turns {
			prefixes[prefix(strings.ToLower(t.Content), uniquePrefixChars)] = struct{}{}
		}
		switch variation := float64(len(prefixes)) / float64(len(turns)); {
		case variation > highVariation:
			add(factorHighVariation, domain.ImpactPositive, "Responses show good variety and uniqueness", 1.5)
		case variation < lowVariation:
			add(factorLowVariation, domain.ImpactNegative, "Responses appear repetitive", -2)
		}

		if cv, ok := lengthVariation(turns); ok {
			switch {
			case cv < consistentCV:
				add(factorConsistent, domain.ImpactPositive, "Turn lengths are consistent throughout", 1)
			case cv > inconsistentCV:
				add(factorInconsistent, domain.ImpactNegative, "Turn lengths vary significantly", -1)
			}
		}

		questions := 0
		for _, t := range turns {
			if strings.Contains(t.Content, "?") {
				questions++
			}
		}
		switch rate := float64(questions) / float64(turnTotal(data)); {
		case rate >= questionRateLow && rate <= questionRateHigh:
			add(factorNaturalFlow, domain.ImpactPositive, "Good balance of questions and statements", 1)
		case rate > questionRateMax:
			add(factorTooManyQs, domain.ImpactNegative, "Excessive questions may indicate lack of depth", -0.5)
		}

		if last := turns[len(turns)-1]; last.Role == domain.RoleAssistant && chars(last.Content) > completeEndingLength {
			add(factorCompleteEnding, domain.ImpactPositive, "Conversation has a proper concluding response", 0.5)
		}
	}

	score = clamp(score, 0, 10)
	level := domain.ConfidenceLow
	switch {
	case score >= highConfidenceScore:
		level = domain.ConfidenceHigh
	case score >= mediumConfidenceScore:
		level = domain.ConfidenceMedium
	}

	return domain.ConfidenceCriterion{
		Score:   round1(score),
		Weight:  weight,
		Level:   level,
		Factors: factors,
		Message: fmt.Sprintf("Confidence level is %s based on %d indicators", level, len(factors)),
	}
}

// lengthVariation returns the coefficient of variation of turn lengths. It
// reports false when every turn is empty.
func lengthVariation(turns []domain.Turn) (float64, bool) {
	var sum float64
	for _, t := range turns {
		sum += float64(chars(t.Content))
	}
	mean := sum / float64(len(turns))
	if mean == 0 {
		return 0, false
	}

	var variance float64
	for _, t := range turns {
		d := float64(chars(t.Content)) - mean
		variance += d * d
	}
	variance /= float64(len(turns))
	return math.Sqrt(variance) / mean, true
}

// chars counts characters, not bytes.
func chars(s string) int { return utf8.RuneCountInString(s) }

// prefix returns the first n characters of s.
func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
