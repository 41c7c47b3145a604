// Package providers holds the wire adapters for upstream generation APIs.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	llmerrors "github.com/ahrav/go-convgen/internal/llm/errors"
	"github.com/ahrav/go-convgen/internal/llm/transport"
)

// ProviderAnthropic is the provider name reported in errors and logs.
const ProviderAnthropic = "anthropic"

// Anthropic API defaults.
const (
	DefaultAnthropicEndpoint = "https://api.anthropic.com/v1"
	AnthropicVersion         = "2023-06-01"
)

// AnthropicConfig configures the Messages API adapter.
type AnthropicConfig struct {
	Endpoint string
	APIKey   string
	// Headers are added to every request after the standard ones.
	Headers map[string]string
}

// AnthropicAdapter implements transport.ProviderAdapter for the Anthropic
// Messages API.
type AnthropicAdapter struct {
	config AnthropicConfig
	now    func() time.Time
}

// NewAnthropicAdapter creates an adapter. An empty endpoint selects the
// production API.
func NewAnthropicAdapter(cfg AnthropicConfig) *AnthropicAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultAnthropicEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &AnthropicAdapter{config: cfg, now: time.Now}
}

// Name returns the provider name.
func (a *AnthropicAdapter) Name() string {
	return ProviderAnthropic
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
}

// Build encodes req as a single-turn Messages call.
func (a *AnthropicAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	body := anthropicRequest{
		Model:       req.Model,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      req.System,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint+"/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", AnthropicVersion)
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Parse decodes a Messages response. Non-200 statuses become a
// *llmerrors.ProviderError carrying the retry-after hint.
func (a *AnthropicAdapter) Parse(httpResp *http.Response) (*transport.Response, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.parseError(httpResp, body)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", llmerrors.ErrInvalidResponse, err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return nil, llmerrors.ErrEmptyResponse
	}

	requestID := httpResp.Header.Get("request-id")
	if requestID == "" {
		requestID = resp.ID
	}

	return &transport.Response{
		Content:           content.String(),
		InputTokens:       resp.Usage.InputTokens,
		OutputTokens:      resp.Usage.OutputTokens,
		Model:             resp.Model,
		StopReason:        resp.StopReason,
		ProviderRequestID: requestID,
	}, nil
}

// parseError converts an error response to ProviderError. Both the nested
// {"error":{"type","message"}} body and a flat {"type","message"} body are
// accepted.
func (a *AnthropicAdapter) parseError(httpResp *http.Response, body []byte) error {
	var errResp struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Error   struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	status := httpResp.StatusCode
	provErr := &llmerrors.ProviderError{
		Provider:   ProviderAnthropic,
		StatusCode: status,
		RetryAfter: parseRetryAfter(httpResp.Header, a.now()),
	}

	switch err := json.Unmarshal(body, &errResp); {
	case err == nil && errResp.Error.Message != "":
		provErr.Message = errResp.Error.Message
		provErr.Code = errResp.Error.Type
	case err == nil && errResp.Message != "":
		provErr.Message = errResp.Message
		provErr.Code = errResp.Type
	default:
		provErr.Message = strings.TrimSpace(string(body))
		if provErr.Message == "" {
			provErr.Message = http.StatusText(status)
		}
	}
	provErr.Type = classifyErrorType(status, provErr.Code)
	return provErr
}
