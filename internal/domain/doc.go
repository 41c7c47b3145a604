// Package domain defines the conversation artifacts produced by the
// generation pipeline, the quality score attached to each of them, and the
// audit records written along the way.
//
// Types in this package carry no behavior beyond validation and small
// derivations; scoring lives in internal/quality and orchestration in
// internal/generation.
package domain
