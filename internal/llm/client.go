// Package llm is the generation client: provider selection, a middleware
// pipeline around the provider HTTP handler, and model pricing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-convgen/internal/llm/providers"
	"github.com/ahrav/go-convgen/internal/llm/transport"
)

// DefaultRequestTimeout bounds one HTTP attempt when no timeout is configured.
const DefaultRequestTimeout = 120 * time.Second

// Client construction errors.
var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrMissingAPIKey       = errors.New("api key is required")
)

// Config selects and configures the upstream provider.
type Config struct {
	Provider       string
	Endpoint       string
	APIKey         string
	Headers        map[string]string
	RequestTimeout time.Duration
	// RedactPrompts logs prompt and response lengths instead of content.
	RedactPrompts bool
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used by the logging middleware.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the per-request metrics sink.
func WithMetrics(m RequestMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithMiddleware appends middleware inside the logging middleware, closest
// to the provider.
func WithMiddleware(mw ...transport.Middleware) Option {
	return func(c *Client) { c.extra = append(c.extra, mw...) }
}

// Client performs single generation calls against the configured provider.
// It is safe for concurrent use.
type Client struct {
	provider   string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    RequestMetrics
	extra      []transport.Middleware
	handler    transport.Handler
}

// NewClient builds the handler chain: logging, then any extra middleware,
// then the provider HTTP handler.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Provider == "" {
		cfg.Provider = providers.ProviderAnthropic
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	var adapter transport.ProviderAdapter
	switch cfg.Provider {
	case providers.ProviderAnthropic:
		adapter = providers.NewAnthropicAdapter(providers.AnthropicConfig{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Headers:  cfg.Headers,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	c := &Client{
		provider:   cfg.Provider,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("component", "llm", "provider", cfg.Provider),
		metrics:    NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}

	middlewares := append([]transport.Middleware{
		NewLoggingMiddleware(c.provider, c.logger, c.metrics, cfg.RedactPrompts),
	}, c.extra...)
	c.handler = transport.Chain(transport.NewHTTPHandler(c.httpClient, adapter), middlewares...)

	return c, nil
}

// Provider returns the configured provider name.
func (c *Client) Provider() string { return c.provider }

// Generate sends req and returns the normalized response. A request ID is
// assigned when the caller did not supply one.
func (c *Client) Generate(ctx context.Context, req transport.Request) (*transport.Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	return c.handler.Handle(ctx, &req)
}
