// Package metrics exports limiter, retry, provider, quality and pipeline
// measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/generation"
	"github.com/ahrav/go-convgen/internal/llm"
	"github.com/ahrav/go-convgen/internal/llm/circuitbreaker"
	"github.com/ahrav/go-convgen/internal/llm/ratelimit"
)

const namespace = "convgen"

var (
	_ ratelimit.Observer      = (*Collector)(nil)
	_ generation.Metrics      = (*Collector)(nil)
	_ llm.RequestMetrics      = (*Collector)(nil)
	_ circuitbreaker.Observer = (*Collector)(nil)
)

// Collector owns every convgen metric on its own registry.
type Collector struct {
	registry *prometheus.Registry

	rateLimitGranted  *prometheus.CounterVec
	rateLimitWait     prometheus.Histogram
	rateLimitQueue    prometheus.Gauge
	rateLimitDegraded prometheus.Gauge

	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	providerTokens   *prometheus.CounterVec
	circuitState     *prometheus.GaugeVec
	circuitChanges   *prometheus.CounterVec

	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	retries            *prometheus.CounterVec
	costUSD            *prometheus.CounterVec

	qualityScore *prometheus.HistogramVec
	flagged      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry along with the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		rateLimitGranted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_granted_total",
			Help:      "Requests admitted by the rate limiter.",
		}, []string{"key", "queued"}),
		rateLimitWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ratelimit_wait_seconds",
			Help:      "Time callers waited for a rate limit slot.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		rateLimitQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ratelimit_queue_length",
			Help:      "Callers waiting in the rate limiter queue.",
		}),
		rateLimitDegraded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ratelimit_degraded",
			Help:      "1 while the shared window store is unreachable.",
		}),

		providerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider HTTP calls by outcome.",
		}, []string{"provider", "model", "outcome"}),
		providerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider call latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"provider", "model"}),
		providerTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"provider", "model", "direction"}),
		circuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state per model (0 closed, 1 open, 2 half-open).",
		}, []string{"model"}),
		circuitChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"model", "to"}),

		generations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Conversation generations by outcome.",
		}, []string{"model", "status"}),
		generationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "End-to-end generation time including retries.",
			Buckets:   []float64{1, 5, 10, 20, 40, 60, 120, 300},
		}, []string{"model", "status"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_retries_total",
			Help:      "Generation attempts after the first.",
		}, []string{"model"}),
		costUSD: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_cost_usd_total",
			Help:      "Estimated spend in US dollars.",
		}, []string{"model"}),

		qualityScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quality_overall_score",
			Help:      "Overall quality score of generated conversations.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}, []string{"tier"}),
		flagged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_flagged_total",
			Help:      "Conversations auto-flagged for revision.",
		}, []string{"tier"}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Granted implements ratelimit.Observer.
func (c *Collector) Granted(key string, waited time.Duration, queued bool) {
	q := "false"
	if queued {
		q = "true"
	}
	c.rateLimitGranted.WithLabelValues(key, q).Inc()
	c.rateLimitWait.Observe(waited.Seconds())
}

// QueueDepth implements ratelimit.Observer.
func (c *Collector) QueueDepth(depth int) { c.rateLimitQueue.Set(float64(depth)) }

// Degraded implements ratelimit.Observer.
func (c *Collector) Degraded(degraded bool) {
	if degraded {
		c.rateLimitDegraded.Set(1)
		return
	}
	c.rateLimitDegraded.Set(0)
}

// ObserveRequest implements llm.RequestMetrics.
func (c *Collector) ObserveRequest(provider, model, outcome string, d time.Duration) {
	c.providerRequests.WithLabelValues(provider, model, outcome).Inc()
	c.providerLatency.WithLabelValues(provider, model).Observe(d.Seconds())
}

// ObserveTokens implements llm.RequestMetrics.
func (c *Collector) ObserveTokens(provider, model string, inputTokens, outputTokens int) {
	c.providerTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	c.providerTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

// CircuitStateChanged implements circuitbreaker.Observer.
func (c *Collector) CircuitStateChanged(key string, _, to circuitbreaker.State) {
	c.circuitState.WithLabelValues(key).Set(float64(to))
	c.circuitChanges.WithLabelValues(key, to.String()).Inc()
}

// ObserveGeneration implements generation.Metrics.
func (c *Collector) ObserveGeneration(model string, status domain.GenerationStatus, d time.Duration) {
	c.generations.WithLabelValues(model, string(status)).Inc()
	c.generationDuration.WithLabelValues(model, string(status)).Observe(d.Seconds())
}

// ObserveQuality implements generation.Metrics.
func (c *Collector) ObserveQuality(tier domain.Tier, overall float64, flagged bool) {
	c.qualityScore.WithLabelValues(string(tier)).Observe(overall)
	if flagged {
		c.flagged.WithLabelValues(string(tier)).Inc()
	}
}

// ObserveCost implements generation.Metrics.
func (c *Collector) ObserveCost(model string, cost domain.USD) {
	if cost > 0 {
		c.costUSD.WithLabelValues(model).Add(float64(cost))
	}
}

// IncRetry implements generation.Metrics.
func (c *Collector) IncRetry(model string) { c.retries.WithLabelValues(model).Inc() }
