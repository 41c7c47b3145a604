// Package transport defines the request pipeline shared by generation
// providers: a Handler interface, composable Middleware and the core HTTP
// handler that delegates wire encoding to a ProviderAdapter.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ProviderAdapter encodes requests and decodes responses for one upstream API.
type ProviderAdapter interface {
	Build(ctx context.Context, req *Request) (*http.Request, error)
	Parse(httpResp *http.Response) (*Response, error)
	Name() string
}

// Handler processes a generation request.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware wraps a Handler with additional behavior.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler. The first
// middleware is outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewHTTPHandler creates the core handler that performs the HTTP round trip.
func NewHTTPHandler(client *http.Client, adapter ProviderAdapter) Handler {
	return &httpHandler{
		client:  client,
		adapter: adapter,
		logger:  slog.Default().With("component", "transport", "provider", adapter.Name()),
	}
}

type httpHandler struct {
	client  *http.Client
	adapter ProviderAdapter
	logger  *slog.Logger
}

// Handle implements Handler.
func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := h.adapter.Build(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			h.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	// Parse errors keep their type so ProviderError reaches the classifier.
	resp, err := h.adapter.Parse(httpResp)
	if err != nil {
		return nil, err
	}
	resp.Duration = latency
	if resp.Model == "" {
		resp.Model = req.Model
	}

	return resp, nil
}
