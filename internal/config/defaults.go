package config

import (
	"time"

	"github.com/ahrav/go-convgen/internal/generation"
	"github.com/ahrav/go-convgen/internal/llm"
	"github.com/ahrav/go-convgen/internal/llm/circuitbreaker"
	"github.com/ahrav/go-convgen/internal/llm/providers"
	"github.com/ahrav/go-convgen/internal/llm/ratelimit"
	"github.com/ahrav/go-convgen/internal/llm/retry"
	"github.com/ahrav/go-convgen/internal/quality"
)

// Rate limit backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Rate limit defaults match the provider's per-minute budget.
const (
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 50
)

// Server defaults.
const (
	DefaultServerHost      = "localhost"
	DefaultServerPort      = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Temporal and storage defaults.
const (
	DefaultTemporalHostPort  = "localhost:7233"
	DefaultTemporalNamespace = "default"
	DefaultTaskQueue         = "convgen-generation"
	DefaultMaxConns          = 10
)

// DefaultConfig returns a configuration that runs entirely in memory.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:       providers.ProviderAnthropic,
			Model:          generation.DefaultModel,
			MaxTokens:      generation.DefaultMaxTokens,
			Temperature:    generation.DefaultTemperature,
			RequestTimeout: llm.DefaultRequestTimeout,
			RedactPrompts:  true,
		},
		RateLimit: RateLimitConfig{
			Window:         DefaultWindow,
			MaxRequests:    DefaultMaxRequests,
			EnableQueue:    true,
			PauseThreshold: ratelimit.DefaultPauseThreshold,
			SweepInterval:  ratelimit.DefaultSweepInterval,
			QueueBuffer:    ratelimit.DefaultQueueBuffer,
			Backend:        BackendMemory,
			KeyPrefix:      ratelimit.DefaultRedisPrefix,
		},
		Retry: RetryConfig{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
			MaxDelay:    retry.DefaultMaxDelay,
			MaxJitter:   retry.DefaultMaxJitter,
		},
		Breaker: breakerDefaults(),
		Quality: QualityConfig{
			Weights: quality.DefaultWeights(),
		},
		Pipeline: PipelineConfig{
			Concurrency: generation.DefaultConcurrency,
		},
		Storage: StorageConfig{
			Driver:   DriverMemory,
			MaxConns: DefaultMaxConns,
		},
		Server: ServerConfig{
			Host:            DefaultServerHost,
			Port:            DefaultServerPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Temporal: TemporalConfig{
			HostPort:  DefaultTemporalHostPort,
			Namespace: DefaultTemporalNamespace,
			TaskQueue: DefaultTaskQueue,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "tint",
		},
	}
}

func breakerDefaults() BreakerConfig {
	d := circuitbreaker.DefaultConfig()
	return BreakerConfig{
		Enabled:          true,
		FailureThreshold: d.FailureThreshold,
		SuccessThreshold: d.SuccessThreshold,
		OpenTimeout:      d.OpenTimeout,
		HalfOpenProbes:   d.HalfOpenProbes,
	}
}
