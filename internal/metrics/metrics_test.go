package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/llm/circuitbreaker"
	"github.com/ahrav/go-convgen/internal/metrics"
)

func TestCollectorRateLimit(t *testing.T) {
	c := metrics.New()

	c.Granted("claude", 0, false)
	c.Granted("claude", 2*time.Second, true)
	c.QueueDepth(3)
	c.Degraded(true)

	expected := `
# HELP convgen_ratelimit_granted_total Requests admitted by the rate limiter.
# TYPE convgen_ratelimit_granted_total counter
convgen_ratelimit_granted_total{key="claude",queued="false"} 1
convgen_ratelimit_granted_total{key="claude",queued="true"} 1
# HELP convgen_ratelimit_queue_length Callers waiting in the rate limiter queue.
# TYPE convgen_ratelimit_queue_length gauge
convgen_ratelimit_queue_length 3
# HELP convgen_ratelimit_degraded 1 while the shared window store is unreachable.
# TYPE convgen_ratelimit_degraded gauge
convgen_ratelimit_degraded 1
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"convgen_ratelimit_granted_total", "convgen_ratelimit_queue_length", "convgen_ratelimit_degraded"))

	c.Degraded(false)
	count, err := testutil.GatherAndCount(c.Registry(), "convgen_ratelimit_wait_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollectorPipeline(t *testing.T) {
	c := metrics.New()

	c.ObserveGeneration("m", domain.GenerationSuccess, time.Second)
	c.ObserveGeneration("m", domain.GenerationFailed, time.Second)
	c.ObserveGeneration("m", domain.GenerationSuccess, time.Second)
	c.ObserveQuality(domain.TierTemplate, 5.5, true)
	c.ObserveQuality(domain.TierTemplate, 9, false)
	c.ObserveCost("m", 0.25)
	c.ObserveCost("m", 0)
	c.IncRetry("m")
	c.ObserveRequest("anthropic", "m", "success", time.Second)
	c.ObserveTokens("anthropic", "m", 100, 250)

	expected := `
# HELP convgen_generations_total Conversation generations by outcome.
# TYPE convgen_generations_total counter
convgen_generations_total{model="m",status="failed"} 1
convgen_generations_total{model="m",status="success"} 2
# HELP convgen_quality_flagged_total Conversations auto-flagged for revision.
# TYPE convgen_quality_flagged_total counter
convgen_quality_flagged_total{tier="template"} 1
# HELP convgen_generation_cost_usd_total Estimated spend in US dollars.
# TYPE convgen_generation_cost_usd_total counter
convgen_generation_cost_usd_total{model="m"} 0.25
# HELP convgen_generation_retries_total Generation attempts after the first.
# TYPE convgen_generation_retries_total counter
convgen_generation_retries_total{model="m"} 1
# HELP convgen_provider_tokens_total Tokens consumed by direction.
# TYPE convgen_provider_tokens_total counter
convgen_provider_tokens_total{direction="input",model="m",provider="anthropic"} 100
convgen_provider_tokens_total{direction="output",model="m",provider="anthropic"} 250
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"convgen_generations_total",
		"convgen_quality_flagged_total",
		"convgen_generation_cost_usd_total",
		"convgen_generation_retries_total",
		"convgen_provider_tokens_total",
	))
}

func TestCollectorCircuit(t *testing.T) {
	c := metrics.New()

	c.CircuitStateChanged("m", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	c.CircuitStateChanged("m", circuitbreaker.StateOpen, circuitbreaker.StateHalfOpen)

	expected := `
# HELP convgen_circuit_state Circuit breaker state per model (0 closed, 1 open, 2 half-open).
# TYPE convgen_circuit_state gauge
convgen_circuit_state{model="m"} 2
# HELP convgen_circuit_transitions_total Circuit breaker state transitions.
# TYPE convgen_circuit_transitions_total counter
convgen_circuit_transitions_total{model="m",to="half-open"} 1
convgen_circuit_transitions_total{model="m",to="open"} 1
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"convgen_circuit_state",
		"convgen_circuit_transitions_total",
	))
}

func TestCollectorHandler(t *testing.T) {
	c := metrics.New()
	c.IncRetry("m")

	srv := httptest.NewServer(c.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `convgen_generation_retries_total{model="m"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
