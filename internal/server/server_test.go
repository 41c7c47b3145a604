package server_test

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

	"github.com/ahrav/go-convgen/internal/config"
	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/generation"
	"github.com/ahrav/go-convgen/internal/llm/circuitbreaker"
	llmerrors "github.com/ahrav/go-convgen/internal/llm/errors"
	"github.com/ahrav/go-convgen/internal/llm/ratelimit"
	"github.com/ahrav/go-convgen/internal/metrics"
	"github.com/ahrav/go-convgen/internal/server"
	"github.com/ahrav/go-convgen/internal/storage/memory"
)

type fakeGenerator struct {
	store    *memory.Store
	err      error
	unflags  []string
	unflagBy []string
}

func (g *fakeGenerator) GenerateSingle(ctx context.Context, params domain.GenerationParams) (*generation.Result, error) {
	if err := params.Validate(); err != nil {
		return nil, &llmerrors.ValidationError{Field: "params", Message: err.Error()}
	}
	if g.err != nil {
		return nil, g.err
	}
	id, err := g.store.SaveConversation(ctx, &domain.ConversationRecord{
		ID:     fmt.Sprintf("conv-%d", len(g.unflags)+1),
		Title:  "Generated",
		Tier:   params.Tier,
		Status: domain.StatusGenerated,
	})
	if err != nil {
		return nil, err
	}
	return &generation.Result{ConversationID: id, Title: "Generated", Status: domain.StatusGenerated}, nil
}

func (g *fakeGenerator) Unflag(ctx context.Context, id, performedBy, _ string) error {
	if err := g.store.UpdateStatus(ctx, id, domain.StatusGenerated, domain.AuditEntry{Action: domain.ActionUnflagged, PerformedBy: performedBy}); err != nil {
		return err
	}
	g.unflags = append(g.unflags, id)
	g.unflagBy = append(g.unflagBy, performedBy)
	return nil
}

type downStore struct{ *memory.Store }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

type fixture struct {
	srv     *server.Server
	store   *memory.Store
	limiter *ratelimit.Limiter
	gen     *fakeGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	limiter, err := ratelimit.New(ratelimit.Config{Window: time.Minute, MaxRequests: 5})
	require.NoError(t, err)
	store := memory.New()
	gen := &fakeGenerator{store: store}

	srv := server.New(config.DefaultConfig().Server, server.Deps{
		Store:     store,
		Limiter:   limiter,
		Generator: gen,
		Metrics:   metrics.New().Handler(),
	})
	return &fixture{srv: srv, store: store, limiter: limiter, gen: gen}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestProbes(t *testing.T) {
	t.Run("healthz", func(t *testing.T) {
		rec := newFixture(t).do(t, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readyz_with_healthy_store", func(t *testing.T) {
		rec := newFixture(t).do(t, http.MethodGet, "/readyz", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string]any](t, rec)
		assert.Equal(t, "ready", body["status"])
	})

	t.Run("readyz_with_failing_store", func(t *testing.T) {
		srv := server.New(config.DefaultConfig().Server, server.Deps{Store: downStore{memory.New()}})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decode[map[string]any](t, rec)
		assert.Equal(t, "not_ready", body["status"])
	})

	t.Run("metrics", func(t *testing.T) {
		rec := newFixture(t).do(t, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})

	t.Run("unknown_route_uses_error_envelope", func(t *testing.T) {
		rec := newFixture(t).do(t, http.MethodGet, "/nope", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
		body := decode[server.ErrorBody](t, rec)
		assert.Equal(t, "NOT_FOUND", body.Error.Code)
		assert.NotEmpty(t, body.Error.RequestID)
	})
}

func TestRateLimitRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for range 3 {
		require.NoError(t, f.limiter.Acquire(ctx, "claude"))
	}

	rec := f.do(t, http.MethodGet, "/v1/ratelimit/claude", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[ratelimit.Status](t, rec)
	assert.Equal(t, 3, status.Used)
	assert.Equal(t, 2, status.Remaining)
	assert.Equal(t, 5, status.Limit)

	rec = f.do(t, http.MethodGet, "/v1/ratelimit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[ratelimit.Stats](t, rec)
	assert.Equal(t, int64(3), stats.Granted)

	rec = f.do(t, http.MethodDelete, "/v1/ratelimit/claude", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, f.limiter.Status(ctx, "claude").Used)
}

func TestCircuitRoutes(t *testing.T) {
	breakers, err := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute, HalfOpenProbes: 1})
	require.NoError(t, err)
	done, err := breakers.Allow("claude")
	require.NoError(t, err)
	done(circuitbreaker.Failure)

	srv := server.New(config.DefaultConfig().Server, server.Deps{Breakers: breakers})
	get := func() map[string]map[string]string {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/circuits", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		return decode[map[string]map[string]string](t, rec)
	}

	assert.Equal(t, "open", get()["circuits"]["claude"])

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/circuits/claude", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "closed", get()["circuits"]["claude"])
}

func TestConversationRoutes(t *testing.T) {
	const params = `{"persona":"nurse","emotion":"tired","topic":"student loans","tier":"scenario"}`

	t.Run("generate_then_read_back", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(t, http.MethodPost, "/v1/conversations", params)
		require.Equal(t, http.StatusCreated, rec.Code)
		res := decode[generation.Result](t, rec)
		require.NotEmpty(t, res.ConversationID)

		rec = f.do(t, http.MethodGet, "/v1/conversations/"+res.ConversationID, "")
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[map[string]any](t, rec)
		assert.Equal(t, "Generated", got["title"])

		rec = f.do(t, http.MethodGet, "/v1/conversations?tier=scenario", "")
		require.Equal(t, http.StatusOK, rec.Code)
		list := decode[map[string]any](t, rec)
		assert.EqualValues(t, 1, list["count"])

		rec = f.do(t, http.MethodGet, "/v1/conversations/stats", "")
		require.Equal(t, http.StatusOK, rec.Code)
		stats := decode[map[string]any](t, rec)
		assert.EqualValues(t, 1, stats["total"])
	})

	t.Run("invalid_params", func(t *testing.T) {
		rec := newFixture(t).do(t, http.MethodPost, "/v1/conversations", `{"persona":"x","tier":"gold"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_REQUEST", decode[server.ErrorBody](t, rec).Error.Code)
	})

	t.Run("malformed_body", func(t *testing.T) {
		rec := newFixture(t).do(t, http.MethodPost, "/v1/conversations", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("upstream_rate_limit", func(t *testing.T) {
		f := newFixture(t)
		f.gen.err = &llmerrors.ProviderError{Provider: "anthropic", StatusCode: 429, Type: llmerrors.ErrorTypeRateLimit, Message: "slow down"}

		rec := f.do(t, http.MethodPost, "/v1/conversations", params)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "RATE_LIMITED", decode[server.ErrorBody](t, rec).Error.Code)
	})

	t.Run("open_circuit", func(t *testing.T) {
		f := newFixture(t)
		f.gen.err = &llmerrors.ProviderError{Provider: "claude", Type: llmerrors.ErrorTypeCircuitOpen, Code: "CIRCUIT_OPEN", RetryAfter: 12, Message: "circuit breaker is open"}

		rec := f.do(t, http.MethodPost, "/v1/conversations", params)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "12", rec.Header().Get("Retry-After"))
		assert.Equal(t, "UPSTREAM_UNAVAILABLE", decode[server.ErrorBody](t, rec).Error.Code)
	})

	t.Run("unparseable_model_output", func(t *testing.T) {
		f := newFixture(t)
		f.gen.err = &generation.ParseError{Message: "no JSON object found in response"}

		rec := f.do(t, http.MethodPost, "/v1/conversations", params)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("unknown_conversation", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/v1/conversations/missing", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = f.do(t, http.MethodPost, "/v1/conversations/missing/unflag", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unflag_records_audit", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		id, err := f.store.SaveConversation(ctx, &domain.ConversationRecord{ID: "conv-flagged", Title: "Flagged", Tier: domain.TierTemplate, Status: domain.StatusNeedsRevision})
		require.NoError(t, err)

		rec := f.do(t, http.MethodPost, "/v1/conversations/"+id+"/unflag", `{"performed_by":"reviewer"}`)
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"reviewer"}, f.gen.unflagBy)

		rec = f.do(t, http.MethodGet, "/v1/conversations/"+id+"/audit", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string][]domain.AuditEntry](t, rec)
		require.Len(t, body["entries"], 1)
		assert.Equal(t, domain.ActionUnflagged, body["entries"][0].Action)
	})

	t.Run("bad_query_params", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/conversations?limit=-1", "").Code)
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/conversations?tier=gold", "").Code)
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/generation-logs?limit=x", "").Code)
	})

	t.Run("generation_logs", func(t *testing.T) {
		f := newFixture(t)
		f.store.LogGeneration(context.Background(), domain.GenerationLog{ID: "log-1", Model: "m", Status: domain.GenerationSuccess})

		rec := f.do(t, http.MethodGet, "/v1/generation-logs?limit=10", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string][]domain.GenerationLog](t, rec)
		require.Len(t, body["logs"], 1)
		assert.Equal(t, "log-1", body["logs"][0].ID)
	})
}
