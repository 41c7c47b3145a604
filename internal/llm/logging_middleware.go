package llm

import (
	"context"
	"log/slog"
	"time"

	llmerrors "github.com/ahrav/go-convgen/internal/llm/errors"
	"github.com/ahrav/go-convgen/internal/llm/transport"
)

// Request outcomes reported to RequestMetrics.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// RequestMetrics receives per-call measurements from the logging middleware.
type RequestMetrics interface {
	ObserveRequest(provider, model, outcome string, d time.Duration)
	ObserveTokens(provider, model string, inputTokens, outputTokens int)
}

// NoOpMetrics discards every measurement.
type NoOpMetrics struct{}

func (NoOpMetrics) ObserveRequest(string, string, string, time.Duration) {}
func (NoOpMetrics) ObserveTokens(string, string, int, int)               {}

// responsePreviewLen caps the unredacted content logged on success.
const responsePreviewLen = 200

// LoggingMiddleware logs the lifecycle of every provider call and feeds
// RequestMetrics. When redactPrompts is set only lengths are logged.
type LoggingMiddleware struct {
	provider      string
	logger        *slog.Logger
	metrics       RequestMetrics
	redactPrompts bool
}

// NewLoggingMiddleware creates the observability middleware for provider.
func NewLoggingMiddleware(provider string, logger *slog.Logger, metrics RequestMetrics, redactPrompts bool) transport.Middleware {
	if logger == nil {
		logger = slog.Default().With("component", "llm")
	}
	if metrics == nil {
		metrics = NoOpMetrics{}
	}

	lm := &LoggingMiddleware{
		provider:      provider,
		logger:        logger,
		metrics:       metrics,
		redactPrompts: redactPrompts,
	}
	return lm.Middleware
}

// Middleware wraps next with request logging and timing.
func (m *LoggingMiddleware) Middleware(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		m.logRequest(ctx, req)

		start := time.Now()
		resp, err := next.Handle(ctx, req)
		duration := time.Since(start)

		if err != nil {
			m.handleError(ctx, req, err, duration)
			return nil, err
		}
		m.handleSuccess(ctx, req, resp, duration)
		return resp, nil
	})
}

func (m *LoggingMiddleware) logRequest(ctx context.Context, req *transport.Request) {
	fields := []any{
		"request_id", req.RequestID,
		"provider", m.provider,
		"model", req.Model,
		"max_tokens", req.MaxTokens,
		"temperature", req.Temperature,
	}
	if m.redactPrompts {
		fields = append(fields, "prompt_length", len(req.Prompt))
		if req.System != "" {
			fields = append(fields, "system_prompt_length", len(req.System))
		}
	} else {
		fields = append(fields, "prompt", req.Prompt)
		if req.System != "" {
			fields = append(fields, "system_prompt", req.System)
		}
	}

	m.logger.DebugContext(ctx, "generation request started", fields...)
}

func (m *LoggingMiddleware) handleError(ctx context.Context, req *transport.Request, err error, duration time.Duration) {
	m.metrics.ObserveRequest(m.provider, req.Model, OutcomeError, duration)

	wfErr := llmerrors.ClassifyLLMError(err)
	m.logger.WarnContext(ctx, "generation request failed",
		"request_id", req.RequestID,
		"provider", m.provider,
		"model", req.Model,
		"duration_ms", duration.Milliseconds(),
		"error_type", wfErr.Type,
		"retryable", wfErr.Retryable,
		"error", err,
	)
}

func (m *LoggingMiddleware) handleSuccess(ctx context.Context, req *transport.Request, resp *transport.Response, duration time.Duration) {
	m.metrics.ObserveRequest(m.provider, req.Model, OutcomeSuccess, duration)
	m.metrics.ObserveTokens(m.provider, req.Model, resp.InputTokens, resp.OutputTokens)

	fields := []any{
		"request_id", req.RequestID,
		"provider", m.provider,
		"model", resp.Model,
		"duration_ms", duration.Milliseconds(),
		"stop_reason", resp.StopReason,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"provider_request_id", resp.ProviderRequestID,
	}
	if m.redactPrompts {
		fields = append(fields, "response_length", len(resp.Content))
	} else {
		content := resp.Content
		if len(content) > responsePreviewLen {
			content = content[:responsePreviewLen] + "..."
		}
		fields = append(fields, "response_preview", content)
	}

	m.logger.InfoContext(ctx, "generation request completed", fields...)
}
