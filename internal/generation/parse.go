package generation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ahrav/go-convgen/internal/domain"
)

// Parsed is a conversation decoded from a model response.
type Parsed struct {
	Title string
	Turns []domain.Turn
}

type rawConversation struct {
	Title string    `json:"title"`
	Turns []rawTurn `json:"turns"`
}

type rawTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	codeFence     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// ParseResponse decodes content into turns. It locates the outermost JSON
// object, applies one repair pass when the first decode fails, and checks
// that turns alternate starting with the user. Turns are numbered from 1 and
// carry an estimated token count.
func ParseResponse(content string, params domain.GenerationParams) (*Parsed, error) {
	raw, ok := extractObject(content)
	if !ok {
		return nil, &ParseError{Message: "no JSON object found in response", Raw: content}
	}

	var conv rawConversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		repaired := repairJSON(raw)
		if repaired == raw {
			return nil, &ParseError{Message: "malformed JSON", Raw: content, Cause: err}
		}
		if err := json.Unmarshal([]byte(repaired), &conv); err != nil {
			return nil, &ParseError{Message: "JSON still invalid after repair", Raw: content, Cause: err}
		}
	}

	if conv.Turns == nil {
		return nil, &ArtifactValidationError{Message: "missing turns array", Index: -1}
	}
	if len(conv.Turns) == 0 {
		return nil, &ArtifactValidationError{Message: "no turns generated", Index: -1}
	}

	turns := make([]domain.Turn, len(conv.Turns))
	for i, rt := range conv.Turns {
		role := domain.Role(strings.ToLower(strings.TrimSpace(rt.Role)))
		if rt.Role == "" || rt.Content == "" {
			return nil, &ArtifactValidationError{Message: "missing role or content", Index: i}
		}
		if !role.Valid() {
			return nil, &ArtifactValidationError{Message: "unknown role " + rt.Role, Index: i}
		}
		if i == 0 && role != domain.RoleUser {
			return nil, &ArtifactValidationError{Message: "first turn must be from user", Index: i}
		}
		if i > 0 && role == turns[i-1].Role {
			return nil, &ArtifactValidationError{Message: "consecutive " + string(role) + " turns", Index: i}
		}
		turns[i] = domain.Turn{
			Role:       role,
			Content:    rt.Content,
			TurnNumber: i + 1,
			TokenCount: domain.EstimateTokens(rt.Content),
		}
	}

	title := strings.TrimSpace(conv.Title)
	if title == "" {
		title = params.DefaultTitle()
	}
	return &Parsed{Title: title, Turns: turns}, nil
}

// extractObject returns the span from the first '{' to the last '}',
// preferring the body of a fenced code block when one is present.
func extractObject(content string) (string, bool) {
	if m := codeFence.FindStringSubmatch(content); m != nil && strings.Contains(m[1], "{") {
		content = m[1]
	}
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

// repairJSON fixes the mistakes models commonly make: trailing commas and
// single-quoted strings in otherwise double-quote-free output.
func repairJSON(s string) string {
	repaired := trailingComma.ReplaceAllString(s, "$1")
	if !strings.Contains(repaired, `"`) && strings.Contains(repaired, `'`) {
		repaired = strings.ReplaceAll(repaired, `'`, `"`)
	}
	return strings.TrimSpace(repaired)
}
