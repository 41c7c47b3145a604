package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ahrav/go-convgen/internal/config"
	"github.com/ahrav/go-convgen/internal/generation"
	"github.com/ahrav/go-convgen/internal/llm"
	"github.com/ahrav/go-convgen/internal/llm/circuitbreaker"
	"github.com/ahrav/go-convgen/internal/llm/ratelimit"
	"github.com/ahrav/go-convgen/internal/metrics"
	"github.com/ahrav/go-convgen/internal/quality"
	"github.com/ahrav/go-convgen/internal/storage"
	"github.com/ahrav/go-convgen/internal/storage/memory"
	"github.com/ahrav/go-convgen/internal/storage/postgres"
	"github.com/ahrav/go-convgen/pkg/events"
)

// app holds the components a command needs. gen is nil when the app was
// built without a provider.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Collector
	store    storage.Store
	limiter  *ratelimit.Limiter
	scorer   *quality.Scorer
	gen      *generation.Generator
	breakers *circuitbreaker.Breakers
	events   events.EventSink

	closers []func() error
}

// newApp wires storage, the limiter and the scorer. With withProvider it
// also builds the LLM client and the generator, failing when no API key is
// configured.
func newApp(ctx context.Context, cfg *config.Config, withProvider bool) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: metrics.New(),
	}
	a.events = events.NewLogSink(a.logger.With("component", "events"))

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	if a.limiter, err = a.newLimiter(ctx); err != nil {
		a.close()
		return nil, err
	}

	if a.scorer, err = quality.NewScorer(cfg.QualityOptions()...); err != nil {
		a.close()
		return nil, err
	}

	if withProvider {
		if err := a.buildGenerator(); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) newLimiter(ctx context.Context) (*ratelimit.Limiter, error) {
	opts := []ratelimit.Option{
		ratelimit.WithLogger(a.logger.With("component", "ratelimit")),
		ratelimit.WithObserver(a.metrics),
	}
	if a.cfg.RateLimit.Backend == config.BackendRedis {
		client, err := ratelimit.DialRedis(ctx, a.cfg.Redis.URL, a.cfg.Redis.Password)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		opts = append(opts, ratelimit.WithStore(ratelimit.NewRedisStore(client, a.cfg.RateLimit.KeyPrefix)))
	}

	limiter, err := ratelimit.New(a.cfg.RateLimitConfig(), opts...)
	if err != nil {
		return nil, err
	}
	limiter.Start()
	a.closers = append(a.closers, func() error {
		limiter.Stop()
		return nil
	})
	return limiter, nil
}

func (a *app) buildGenerator() error {
	opts := []llm.Option{
		llm.WithLogger(a.logger.With("component", "llm")),
		llm.WithMetrics(a.metrics),
	}
	if a.cfg.Breaker.Enabled {
		breakers, err := circuitbreaker.New(a.cfg.BreakerConfig(),
			circuitbreaker.WithLogger(a.logger.With("component", "circuit_breaker")),
			circuitbreaker.WithObserver(a.metrics))
		if err != nil {
			return err
		}
		a.breakers = breakers
		opts = append(opts, llm.WithMiddleware(circuitbreaker.Middleware(breakers)))
	}

	client, err := llm.NewClient(a.cfg.LLMClientConfig(), opts...)
	if err != nil {
		return err
	}

	gen, err := generation.NewGenerator(generation.Deps{
		Limiter:  a.limiter,
		Retry:    a.cfg.RetryOptions(),
		Caller:   client,
		Scorer:   a.scorer,
		Store:    a.store,
		Audit:    a.store,
		Pricing:  llm.NewPriceTable(a.cfg.LLM.Pricing),
		Events:   a.events,
		Metrics:  a.metrics,
		Logger:   a.logger.With("component", "generation"),
		Defaults: a.cfg.GenerationDefaults(),
	})
	if err != nil {
		return err
	}
	a.gen = gen
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to release resource", "error", err)
		}
	}
	a.closers = nil
}

// openStore returns the configured store, migrating Postgres when
// auto_migrate is set.
func openStore(ctx context.Context, sc config.StorageConfig) (storage.Store, error) {
	switch sc.Driver {
	case config.DriverMemory, "":
		return memory.New(), nil
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, postgres.Config{DSN: sc.DSN, MaxConns: sc.MaxConns})
		if err != nil {
			return nil, err
		}
		if sc.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return postgres.NewStore(db), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
}

// errNeedsPostgres is returned by commands that only make sense against a
// persistent store.
var errNeedsPostgres = errors.New("this command requires storage.driver=postgres")
