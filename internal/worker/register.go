// Package worker wires the batch workflow and its activities into a Temporal
// worker.
package worker

import (
	sdkactivity "go.temporal.io/sdk/activity"
	sdkworker "go.temporal.io/sdk/worker"
	sdkworkflow "go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-convgen/internal/activity"
	"github.com/ahrav/go-convgen/internal/workflow"
)

// Registered workflow names.
const (
	BatchGenerationWorkflowName = "BatchGenerationWorkflow"
)

// Registry is the registration surface shared by sdk workers and the test
// environments.
type Registry interface {
	RegisterWorkflowWithOptions(w any, options sdkworkflow.RegisterOptions)
	RegisterActivityWithOptions(a any, options sdkactivity.RegisterOptions)
}

var _ Registry = sdkworker.Worker(nil)

// RegisterAll registers the batch workflow and its activities under stable
// names. It must be called once, before the worker starts.
func RegisterAll(r Registry, acts *activity.Activities) {
	r.RegisterWorkflowWithOptions(workflow.BatchGenerationWorkflow, sdkworkflow.RegisterOptions{
		Name: BatchGenerationWorkflowName,
	})
	r.RegisterActivityWithOptions(acts.GenerateConversation, sdkactivity.RegisterOptions{
		Name: activity.GenerateConversationName,
	})
	r.RegisterActivityWithOptions(acts.CompleteBatch, sdkactivity.RegisterOptions{
		Name: activity.CompleteBatchName,
	})
}
