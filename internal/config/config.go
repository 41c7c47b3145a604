// Package config loads application settings from YAML, the environment and
// an optional .env file, validates them, and converts sections into the
// component configurations the rest of the module consumes.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/generation"
	"github.com/ahrav/go-convgen/internal/llm"
	"github.com/ahrav/go-convgen/internal/llm/circuitbreaker"
	"github.com/ahrav/go-convgen/internal/llm/ratelimit"
	"github.com/ahrav/go-convgen/internal/llm/retry"
	"github.com/ahrav/go-convgen/internal/quality"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root application configuration.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig   `mapstructure:"circuit_breaker"`
	Quality   QualityConfig   `mapstructure:"quality"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Server    ServerConfig    `mapstructure:"server"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// LLMConfig configures the upstream provider. APIKey is only required by
// commands that call the provider.
type LLMConfig struct {
	Provider       string                    `mapstructure:"provider" validate:"required,oneof=anthropic"`
	Endpoint       string                    `mapstructure:"endpoint" validate:"omitempty,url"`
	APIKey         string                    `mapstructure:"api_key"`
	Model          string                    `mapstructure:"model" validate:"required"`
	MaxTokens      int                       `mapstructure:"max_tokens" validate:"gt=0"`
	Temperature    float64                   `mapstructure:"temperature" validate:"gte=0,lte=1"`
	RequestTimeout time.Duration             `mapstructure:"request_timeout" validate:"gt=0"`
	RedactPrompts  bool                      `mapstructure:"redact_prompts"`
	Pricing        map[string]llm.ModelPrice `mapstructure:"pricing"`
}

// RateLimitConfig configures the sliding-window limiter.
type RateLimitConfig struct {
	Window         time.Duration `mapstructure:"window" validate:"gte=1ms"`
	MaxRequests    int           `mapstructure:"max_requests" validate:"gt=0"`
	EnableQueue    bool          `mapstructure:"enable_queue"`
	PauseThreshold float64       `mapstructure:"pause_threshold" validate:"gte=0,lte=1"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
	QueueBuffer    time.Duration `mapstructure:"queue_buffer" validate:"gte=0"`
	Backend        string        `mapstructure:"backend" validate:"oneof=memory redis"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
}

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	MaxJitter   time.Duration `mapstructure:"max_jitter"`
}

// BreakerConfig configures the per-model circuit breaker on the LLM client.
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"gte=0"`
	SuccessThreshold int           `mapstructure:"success_threshold" validate:"gte=0"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout" validate:"gte=0"`
	HalfOpenProbes   int           `mapstructure:"half_open_probes" validate:"gte=0"`
}

// QualityConfig overrides scoring weights and per-tier thresholds.
type QualityConfig struct {
	Weights quality.Weights                        `mapstructure:"weights"`
	Tiers   map[domain.Tier]quality.TierThresholds `mapstructure:"tiers"`
}

// PipelineConfig configures batch generation.
type PipelineConfig struct {
	Concurrency int  `mapstructure:"concurrency" validate:"gte=1,lte=50"`
	StopOnError bool `mapstructure:"stop_on_error"`
}

// StorageConfig selects the conversation store.
type StorageConfig struct {
	Driver      string `mapstructure:"driver" validate:"oneof=memory postgres"`
	DSN         string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	MaxConns    int    `mapstructure:"max_conns" validate:"gte=0"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig is used when the limiter backend is redis.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// TemporalConfig configures the durable batch worker.
type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	HostPort  string `mapstructure:"host_port" validate:"required_if=Enabled true"`
	Namespace string `mapstructure:"namespace" validate:"required_if=Enabled true"`
	TaskQueue string `mapstructure:"task_queue" validate:"required_if=Enabled true"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json tint"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct tag validation and the checks tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Quality.Weights.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Breaker.Enabled {
		if err := c.BreakerConfig().Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if c.RateLimit.Backend == BackendRedis && c.Redis.URL == "" {
		return fmt.Errorf("%w: redis.url is required for the redis rate limit backend", ErrInvalidConfig)
	}
	if _, err := quality.NewScorer(c.QualityOptions()...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// RateLimitConfig converts the section into a limiter config.
func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		Window:         c.RateLimit.Window,
		MaxRequests:    c.RateLimit.MaxRequests,
		EnableQueue:    c.RateLimit.EnableQueue,
		PauseThreshold: c.RateLimit.PauseThreshold,
		SweepInterval:  c.RateLimit.SweepInterval,
		QueueBuffer:    c.RateLimit.QueueBuffer,
	}
}

// RetryOptions converts the section into a retry policy.
func (c *Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		MaxJitter:   c.Retry.MaxJitter,
	}
}

// BreakerConfig converts the section into a circuit breaker config.
func (c *Config) BreakerConfig() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		SuccessThreshold: c.Breaker.SuccessThreshold,
		OpenTimeout:      c.Breaker.OpenTimeout,
		HalfOpenProbes:   c.Breaker.HalfOpenProbes,
	}
}

// QualityWeights returns the configured criterion weights.
func (c *Config) QualityWeights() quality.Weights { return c.Quality.Weights }

// QualityOptions returns scorer options for weights and tier overrides.
func (c *Config) QualityOptions() []quality.Option {
	opts := []quality.Option{quality.WithWeights(c.Quality.Weights)}
	if len(c.Quality.Tiers) > 0 {
		opts = append(opts, quality.WithTiers(c.Quality.Tiers))
	}
	return opts
}

// LLMClientConfig converts the section into a client config.
func (c *Config) LLMClientConfig() llm.Config {
	return llm.Config{
		Provider:       c.LLM.Provider,
		Endpoint:       c.LLM.Endpoint,
		APIKey:         c.LLM.APIKey,
		RequestTimeout: c.LLM.RequestTimeout,
		RedactPrompts:  c.LLM.RedactPrompts,
	}
}

// GenerationDefaults returns the request defaults for the pipeline.
func (c *Config) GenerationDefaults() generation.Defaults {
	temperature := c.LLM.Temperature
	return generation.Defaults{
		Model:       c.LLM.Model,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: &temperature,
	}
}

// BatchOptions returns batch settings. Callers add progress and run IDs.
func (c *Config) BatchOptions() generation.BatchOptions {
	return generation.BatchOptions{
		Concurrency: c.Pipeline.Concurrency,
		StopOnError: c.Pipeline.StopOnError,
	}
}
