package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ahrav/go-convgen/internal/domain"
)

// EnvPrefix namespaces environment overrides, e.g. CONVGEN_LLM_API_KEY.
const EnvPrefix = "CONVGEN"

// Load reads configuration in increasing precedence: defaults, the YAML
// file, then environment variables. A .env file in the working directory is
// loaded first when present. An empty path searches ./convgen.yaml and
// ./config/convgen.yaml and tolerates neither existing.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("convgen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToTierHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.endpoint", d.LLM.Endpoint)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.request_timeout", d.LLM.RequestTimeout)
	v.SetDefault("llm.redact_prompts", d.LLM.RedactPrompts)

	v.SetDefault("rate_limit.window", d.RateLimit.Window)
	v.SetDefault("rate_limit.max_requests", d.RateLimit.MaxRequests)
	v.SetDefault("rate_limit.enable_queue", d.RateLimit.EnableQueue)
	v.SetDefault("rate_limit.pause_threshold", d.RateLimit.PauseThreshold)
	v.SetDefault("rate_limit.sweep_interval", d.RateLimit.SweepInterval)
	v.SetDefault("rate_limit.queue_buffer", d.RateLimit.QueueBuffer)
	v.SetDefault("rate_limit.backend", d.RateLimit.Backend)
	v.SetDefault("rate_limit.key_prefix", d.RateLimit.KeyPrefix)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.max_jitter", d.Retry.MaxJitter)

	v.SetDefault("circuit_breaker.enabled", d.Breaker.Enabled)
	v.SetDefault("circuit_breaker.failure_threshold", d.Breaker.FailureThreshold)
	v.SetDefault("circuit_breaker.success_threshold", d.Breaker.SuccessThreshold)
	v.SetDefault("circuit_breaker.open_timeout", d.Breaker.OpenTimeout)
	v.SetDefault("circuit_breaker.half_open_probes", d.Breaker.HalfOpenProbes)

	v.SetDefault("quality.weights.turn_count", d.Quality.Weights.TurnCount)
	v.SetDefault("quality.weights.length", d.Quality.Weights.Length)
	v.SetDefault("quality.weights.structure", d.Quality.Weights.Structure)
	v.SetDefault("quality.weights.confidence", d.Quality.Weights.Confidence)

	v.SetDefault("pipeline.concurrency", d.Pipeline.Concurrency)
	v.SetDefault("pipeline.stop_on_error", d.Pipeline.StopOnError)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.max_conns", d.Storage.MaxConns)
	v.SetDefault("storage.auto_migrate", d.Storage.AutoMigrate)

	v.SetDefault("redis.url", d.Redis.URL)
	v.SetDefault("redis.password", d.Redis.Password)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("temporal.enabled", d.Temporal.Enabled)
	v.SetDefault("temporal.host_port", d.Temporal.HostPort)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// stringToTierHookFunc parses tier names, including map keys under
// quality.tiers, and rejects unknown ones at load time.
func stringToTierHookFunc() mapstructure.DecodeHookFuncType {
	tierType := reflect.TypeOf(domain.Tier(""))
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != tierType {
			return data, nil
		}
		return domain.ParseTier(strings.ToLower(strings.TrimSpace(reflect.ValueOf(data).String())))
	}
}
