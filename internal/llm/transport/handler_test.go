package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-convgen/internal/llm/transport"
)

// echoAdapter posts the prompt as JSON and reads {"content": ...} back.
type echoAdapter struct{ endpoint string }

var errUpstream = errors.New("upstream said no")

func (a echoAdapter) Name() string { return "echo" }

func (a echoAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	body, _ := json.Marshal(map[string]string{"prompt": req.Prompt})
	return http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(string(body)))
}

func (a echoAdapter) Parse(resp *http.Response) (*transport.Response, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", errUpstream, resp.StatusCode)
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &transport.Response{Content: out.Content, InputTokens: 3, OutputTokens: 4}, nil
}

func TestHTTPHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("round_trip", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var in map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			_ = json.NewEncoder(w).Encode(map[string]string{"content": "echo: " + in["prompt"]})
		}))
		defer srv.Close()

		h := transport.NewHTTPHandler(srv.Client(), echoAdapter{endpoint: srv.URL})
		resp, err := h.Handle(ctx, &transport.Request{Prompt: "hi", Model: "m"})
		require.NoError(t, err)
		assert.Equal(t, "echo: hi", resp.Content)
		assert.Equal(t, "m", resp.Model, "model falls back to the requested one")
		assert.Equal(t, 7, resp.TotalTokens())
		assert.Positive(t, resp.Duration)
	})

	t.Run("parse_error_keeps_type", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		h := transport.NewHTTPHandler(srv.Client(), echoAdapter{endpoint: srv.URL})
		_, err := h.Handle(ctx, &transport.Request{Prompt: "hi", Model: "m"})
		require.ErrorIs(t, err, errUpstream)
	})

	t.Run("invalid_request_never_dials", func(t *testing.T) {
		h := transport.NewHTTPHandler(http.DefaultClient, echoAdapter{endpoint: "http://127.0.0.1:1"})

		_, err := h.Handle(ctx, &transport.Request{Model: "m"})
		require.ErrorIs(t, err, transport.ErrPromptRequired)

		_, err = h.Handle(ctx, &transport.Request{Prompt: "p"})
		require.ErrorIs(t, err, transport.ErrModelRequired)
	})

	t.Run("per_request_timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		defer srv.Close()

		h := transport.NewHTTPHandler(srv.Client(), echoAdapter{endpoint: srv.URL})
		_, err := h.Handle(ctx, &transport.Request{Prompt: "p", Model: "m", Timeout: 20 * time.Millisecond})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) transport.Middleware {
		return func(next transport.Handler) transport.Handler {
			return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				order = append(order, name+":before")
				resp, err := next.Handle(ctx, req)
				order = append(order, name+":after")
				return resp, err
			})
		}
	}
	core := transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		order = append(order, "core")
		return &transport.Response{Content: "ok"}, nil
	})

	resp, err := transport.Chain(core, mw("outer"), mw("inner")).Handle(context.Background(), &transport.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, []string{"outer:before", "inner:before", "core", "inner:after", "outer:after"}, order)
}
