package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-convgen/internal/activity"
	"github.com/ahrav/go-convgen/internal/config"
	"github.com/ahrav/go-convgen/internal/workflow"
)

// ErrTemporalDisabled is returned when a durable operation is requested but
// temporal.enabled is false.
var ErrTemporalDisabled = errors.New("temporal is disabled")

// Dial connects to the Temporal frontend described by cfg. SDK logs go
// through logger.
func Dial(cfg config.TemporalConfig, logger *slog.Logger) (client.Client, error) {
	if !cfg.Enabled {
		return nil, ErrTemporalDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    log.NewStructuredLogger(logger.With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal at %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// Run polls taskQueue until ctx is done and then stops the worker, letting
// in-flight activities finish within the SDK's stop timeout.
func Run(ctx context.Context, c client.Client, taskQueue string, acts *activity.Activities) error {
	w := sdkworker.New(c, taskQueue, sdkworker.Options{})
	RegisterAll(w, acts)

	if err := w.Start(); err != nil {
		return fmt.Errorf("start worker on %s: %w", taskQueue, err)
	}
	slog.Default().Info("temporal worker started", "component", "worker", "task_queue", taskQueue)

	<-ctx.Done()
	w.Stop()
	return nil
}

// StartBatch starts a BatchGenerationWorkflow. The run ID doubles as the
// workflow ID so a resubmitted batch with the same ID is rejected by the
// server instead of running twice.
func StartBatch(ctx context.Context, c client.Client, taskQueue string, in workflow.BatchInput) (client.WorkflowRun, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.RunID == "" {
		in.RunID = "batch-" + uuid.NewString()
	}

	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        in.RunID,
		TaskQueue: taskQueue,
	}, BatchGenerationWorkflowName, in)
	if err != nil {
		return nil, fmt.Errorf("start batch workflow %s: %w", in.RunID, err)
	}
	return run, nil
}
