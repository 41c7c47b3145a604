package errors

import (
	"fmt"
)

// WorkflowError is the normalized form of any generation-call failure.
// It carries the classification, the retry decision and the original cause.
type WorkflowError struct {
	Type      ErrorType      `json:"type"`
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details"`
	Cause     error          `json:"-"`
}

func (e *WorkflowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As compatibility.
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns the explicit retry decision.
func (e *WorkflowError) IsRetryable() bool {
	return e.Retryable
}
