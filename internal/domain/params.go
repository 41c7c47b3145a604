package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// GenerationParams describes one conversation to generate.
type GenerationParams struct {
	Persona string `json:"persona" validate:"required,max=200"`
	Emotion string `json:"emotion" validate:"required,max=100"`
	Topic   string `json:"topic" validate:"required,max=500"`
	Tier    Tier   `json:"tier" validate:"required,tier"`

	// TemplateID selects a prompt template when Prompt is empty. An empty
	// TemplateID selects the resolver's default template.
	TemplateID string `json:"template_id,omitempty"`
	// Prompt is used verbatim when set.
	Prompt string `json:"prompt,omitempty"`

	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,min=0,max=1"`
	MaxTokens   int      `json:"max_tokens,omitempty" validate:"omitempty,min=1,max=200000"`

	// Parameters are template variables beyond persona, emotion and topic.
	Parameters map[string]string `json:"parameters,omitempty"`

	// DimensionConfidence is an optional external confidence in [0,1] that
	// shifts the overall score.
	DimensionConfidence *float64 `json:"dimension_confidence,omitempty" validate:"omitempty,min=0,max=1"`

	CreatedBy string `json:"created_by,omitempty"`
}

// Validate checks required fields and ranges.
func (p *GenerationParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParams, describeValidation(err))
	}
	return nil
}

// Variables returns the template variables for p, including persona, emotion,
// topic and tier.
func (p *GenerationParams) Variables() map[string]string {
	vars := cloneStringMap(p.Parameters)
	if vars == nil {
		vars = make(map[string]string, 4)
	}
	vars["persona"] = p.Persona
	vars["emotion"] = p.Emotion
	vars["topic"] = p.Topic
	vars["tier"] = string(p.Tier)
	return vars
}

// DefaultTitle is the title used when the model does not supply one.
func (p *GenerationParams) DefaultTitle() string {
	return fmt.Sprintf("%s - %s - %s", p.Persona, p.Emotion, p.Topic)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
