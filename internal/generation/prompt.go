package generation

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// DefaultTemplateID names the built-in template.
const DefaultTemplateID = "default"

// DefaultTemplate asks for a JSON conversation in the shape ParseResponse
// expects.
const DefaultTemplate = `Generate a realistic multi-turn conversation between a user and an AI assistant.

User persona: {{persona}}
User emotional state: {{emotion}}
Topic: {{topic}}
Conversation tier: {{tier}}

The user speaks first and the speakers alternate. Give the assistant substantive, specific answers.

Respond with a single JSON object and nothing else:
{"title": "<short title>", "turns": [{"role": "user", "content": "..."}, {"role": "assistant", "content": "..."}]}`

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// TemplateResolver resolves prompts from an in-memory template set using
// {{name}} placeholders.
type TemplateResolver struct {
	templates map[string]string
}

// NewTemplateResolver returns a resolver over templates plus the built-in
// default. An entry under DefaultTemplateID replaces the built-in.
func NewTemplateResolver(templates map[string]string) *TemplateResolver {
	t := map[string]string{DefaultTemplateID: DefaultTemplate}
	maps.Copy(t, templates)
	return &TemplateResolver{templates: t}
}

// Resolve substitutes vars into the template. An empty templateID selects the
// default template. Every placeholder must have a value.
func (r *TemplateResolver) Resolve(_ context.Context, templateID string, vars map[string]string) (string, error) {
	if templateID == "" {
		templateID = DefaultTemplateID
	}
	tmpl, ok := r.templates[templateID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, templateID)
	}

	var missing []string
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(slices.Compact(missing), ", "))
	}
	return out, nil
}

// Templates returns the known template IDs in sorted order.
func (r *TemplateResolver) Templates() []string {
	return slices.Sorted(maps.Keys(r.templates))
}
