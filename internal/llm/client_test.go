package llm_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-convgen/internal/llm"
	"github.com/ahrav/go-convgen/internal/llm/retry"
	"github.com/ahrav/go-convgen/internal/llm/transport"
)

const okBody = `{"id":"msg_1","model":"claude-3-haiku-20240307","stop_reason":"end_turn",
	"content":[{"type":"text","text":"hello there"}],
	"usage":{"input_tokens":10,"output_tokens":20}}`

type recordedRequest struct {
	provider, model, outcome string
}

type recordingMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
	tokens   [2]int
}

func (m *recordingMetrics) ObserveRequest(provider, model, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{provider, model, outcome})
}

func (m *recordingMetrics) ObserveTokens(_, _ string, in, out int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[0] += in
	m.tokens[1] += out
}

func request() transport.Request {
	return transport.Request{
		Prompt:    "secret prompt text",
		Model:     "claude-3-haiku-20240307",
		MaxTokens: 100,
	}
}

func TestNewClient(t *testing.T) {
	t.Run("missing_api_key", func(t *testing.T) {
		_, err := llm.NewClient(llm.Config{})
		require.ErrorIs(t, err, llm.ErrMissingAPIKey)
	})

	t.Run("unsupported_provider", func(t *testing.T) {
		_, err := llm.NewClient(llm.Config{Provider: "carrier-pigeon", APIKey: "k"})
		require.ErrorIs(t, err, llm.ErrUnsupportedProvider)
	})

	t.Run("defaults_to_anthropic", func(t *testing.T) {
		c, err := llm.NewClient(llm.Config{APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", c.Provider())
	})
}

func TestClientGenerate(t *testing.T) {
	var (
		mu         sync.Mutex
		requestIDs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestIDs = append(requestIDs, r.Header.Get("X-Request-ID"))
		mu.Unlock()
		_, _ = w.Write([]byte(okBody))
	}))
	t.Cleanup(srv.Close)

	metrics := &recordingMetrics{}
	c, err := llm.NewClient(
		llm.Config{Endpoint: srv.URL, APIKey: "k"},
		llm.WithHTTPClient(srv.Client()),
		llm.WithMetrics(metrics),
	)
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, 30, resp.TotalTokens())

	req := request()
	req.RequestID = "caller-id"
	_, err = c.Generate(context.Background(), req)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, requestIDs, 2)
	assert.NotEmpty(t, requestIDs[0], "a request id is assigned")
	assert.Equal(t, "caller-id", requestIDs[1])
	mu.Unlock()

	assert.Equal(t, []recordedRequest{
		{"anthropic", "claude-3-haiku-20240307", llm.OutcomeSuccess},
		{"anthropic", "claude-3-haiku-20240307", llm.OutcomeSuccess},
	}, metrics.requests)
	assert.Equal(t, [2]int{20, 40}, metrics.tokens)
}

func TestClientWithRetryMiddleware(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(529)
			_, _ = w.Write([]byte(`{"error":{"type":"overloaded_error","message":"Overloaded"}}`))
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	t.Cleanup(srv.Close)

	exec, err := retry.NewExecutor(retry.Options{
		MaxAttempts: 3,
		MaxJitter:   -1,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)

	metrics := &recordingMetrics{}
	c, err := llm.NewClient(
		llm.Config{Endpoint: srv.URL, APIKey: "k"},
		llm.WithHTTPClient(srv.Client()),
		llm.WithMetrics(metrics),
		llm.WithMiddleware(retry.Middleware(exec)),
	)
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(2), exec.Stats().TotalRetries)

	// Logging sits outside retry, so the caller sees a single request.
	require.Len(t, metrics.requests, 1)
	assert.Equal(t, llm.OutcomeSuccess, metrics.requests[0].outcome)
}

func TestLoggingMiddlewareRedaction(t *testing.T) {
	core := transport.HandlerFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{Content: "model reply " + strings.Repeat("x", 300), Model: req.Model}, nil
	})

	tests := []struct {
		name     string
		redact   bool
		contains []string
		absent   []string
	}{
		{
			name:     "redacted",
			redact:   true,
			contains: []string{"prompt_length=18", "response_length=312"},
			absent:   []string{"secret prompt text", "model reply"},
		},
		{
			name:     "plain",
			redact:   false,
			contains: []string{`prompt="secret prompt text"`, "model reply", "..."},
			absent:   []string{"prompt_length"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			h := transport.Chain(core, llm.NewLoggingMiddleware("anthropic", logger, nil, tt.redact))

			req := request()
			_, err := h.Handle(context.Background(), &req)
			require.NoError(t, err)

			out := buf.String()
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestLoggingMiddlewareError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	metrics := &recordingMetrics{}

	failing := transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return nil, context.DeadlineExceeded
	})
	h := transport.Chain(failing, llm.NewLoggingMiddleware("anthropic", logger, metrics, true))

	req := request()
	_, err := h.Handle(context.Background(), &req)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Contains(t, buf.String(), "generation request failed")
	assert.Contains(t, buf.String(), "error_type=timeout")
	require.Len(t, metrics.requests, 1)
	assert.Equal(t, llm.OutcomeError, metrics.requests[0].outcome)
}
