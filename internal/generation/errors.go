package generation

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingVariable is returned when a template references a variable
	// that was not supplied.
	ErrMissingVariable = errors.New("missing template variable")

	// ErrTemplateNotFound is returned for an unknown template ID.
	ErrTemplateNotFound = errors.New("template not found")
)

// ParseError reports a model response that could not be decoded into a
// conversation. It is never retried.
type ParseError struct {
	Message string
	// Raw is the response content. It is kept for debugging and never logged.
	Raw   string
	Cause error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse response: %s: %v", e.Message, e.Cause)
	}
	return "parse response: " + e.Message
}

func (e *ParseError) Unwrap() error { return e.Cause }

// IsRetryable always reports false.
func (e *ParseError) IsRetryable() bool { return false }

// ArtifactValidationError reports a decoded conversation that breaks the
// turn rules. Index is the offending turn, or -1 when the error concerns the
// whole artifact.
type ArtifactValidationError struct {
	Message string
	Index   int
}

func (e *ArtifactValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid conversation at turn %d: %s", e.Index+1, e.Message)
	}
	return "invalid conversation: " + e.Message
}

// IsRetryable always reports false.
func (e *ArtifactValidationError) IsRetryable() bool { return false }
