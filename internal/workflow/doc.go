// Package workflow defines the Temporal workflows for durable conversation
// generation.
//
// BatchGenerationWorkflow fans a batch out to GenerateConversation
// activities with bounded concurrency and records the final tally through
// the CompleteBatch activity. Workflow code stays deterministic: time comes
// from workflow.Now, and every side effect, including event emission, runs in
// an activity.
//
// Progress is exposed through the "progress" query while the batch runs.
package workflow
