package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-convgen/internal/activity"
	"github.com/ahrav/go-convgen/internal/server"
	"github.com/ahrav/go-convgen/internal/worker"
	base "github.com/ahrav/go-convgen/pkg/activity"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when temporal.enabled, a batch worker",
	Long: `serve exposes health probes, Prometheus metrics, rate limiter status and
conversation review routes over HTTP. Generation routes are mounted only when
an API key is configured.

With temporal.enabled the process also polls the configured task queue and
executes durable batches started by "convgen batch --durable".`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	withProvider := cfg.LLM.APIKey != ""
	a, err := newApp(ctx, cfg, withProvider)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Temporal.Enabled && !withProvider {
		return errors.New("temporal workers need llm.api_key to generate conversations")
	}
	if !withProvider {
		a.logger.Warn("llm.api_key not set; generation routes disabled")
	}

	deps := server.Deps{
		Store:   a.store,
		Limiter: a.limiter,
		Metrics: a.metrics.Handler(),
		Logger:  a.logger.With("component", "server"),
	}
	if a.gen != nil {
		deps.Generator = a.gen
	}
	if a.breakers != nil {
		deps.Breakers = a.breakers
	}
	srv := server.New(cfg.Server, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Temporal.Enabled {
		c, err := worker.Dial(cfg.Temporal, a.logger)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		defer c.Close()

		acts, err := activity.NewActivities(base.NewBaseActivities(a.events), a.gen)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return worker.Run(gctx, c, cfg.Temporal.TaskQueue, acts) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}
