package transport

import (
	"errors"
	"fmt"
	"time"
)

// Request validation errors.
var (
	ErrPromptRequired = errors.New("prompt is required")
	ErrModelRequired  = errors.New("model is required")
)

// Request is a provider-neutral generation call.
type Request struct {
	// Prompt is sent as the single user message.
	Prompt string `json:"prompt"`

	// System is an optional system prompt.
	System string `json:"system,omitempty"`

	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`

	// RequestID correlates log lines across middleware and retries.
	RequestID string `json:"request_id,omitempty"`

	// Timeout bounds a single attempt. Zero leaves the client default in place.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate checks the fields every provider requires.
func (r *Request) Validate() error {
	if r.Prompt == "" {
		return ErrPromptRequired
	}
	if r.Model == "" {
		return ErrModelRequired
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative (got %d)", r.MaxTokens)
	}
	return nil
}

// Response is the normalized result of a generation call.
type Response struct {
	Content      string        `json:"content"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Model        string        `json:"model"`
	StopReason   string        `json:"stop_reason"`
	Duration     time.Duration `json:"duration"`

	// ProviderRequestID is the upstream identifier, when the provider returns one.
	ProviderRequestID string `json:"provider_request_id,omitempty"`
}

// TotalTokens returns input plus output tokens.
func (r *Response) TotalTokens() int { return r.InputTokens + r.OutputTokens }
