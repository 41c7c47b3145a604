package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType categorizes generation-call failures for retry classification.
// Types determine whether an operation should be retried and are reused as
// metric labels and Temporal application error tags.
type ErrorType string

const (
	// ErrorTypeTimeout indicates request timeout or deadline exceeded (retryable).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit indicates an upstream rate limit or HTTP 429 (retryable).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork indicates connection-level failures (retryable).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeServer indicates a 5xx or overloaded upstream (retryable).
	ErrorTypeServer ErrorType = "server"

	// ErrorTypeClient indicates a 4xx request the upstream refused (non-retryable).
	ErrorTypeClient ErrorType = "client"

	// ErrorTypeValidation indicates malformed input or output (non-retryable).
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeAuth indicates authentication failed (non-retryable).
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypePermission indicates insufficient permissions (non-retryable).
	ErrorTypePermission ErrorType = "permission_denied"

	// ErrorTypeQuota indicates account quota exceeded (non-retryable).
	ErrorTypeQuota ErrorType = "quota_exceeded"

	// ErrorTypeCircuitOpen indicates the client refused the call because the
	// model's circuit breaker is open (retryable after RetryAfter).
	ErrorTypeCircuitOpen ErrorType = "circuit_open"

	// ErrorTypeCanceled indicates the caller abandoned the operation (non-retryable).
	ErrorTypeCanceled ErrorType = "canceled"

	// ErrorTypeUnknown indicates an unclassified error (non-retryable).
	ErrorTypeUnknown ErrorType = "unknown"
)

// Retryable reports the default retry policy for an error type.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeServer, ErrorTypeCircuitOpen:
		return true
	default:
		return false
	}
}

// Common generation-call errors.
var (
	// ErrProviderUnavailable indicates the provider service is down or unreachable.
	ErrProviderUnavailable = errors.New("provider service unavailable")

	// ErrRateLimitExceeded indicates an upstream rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidResponse indicates the provider returned a body that could not be decoded.
	ErrInvalidResponse = errors.New("invalid provider response")

	// ErrEmptyResponse indicates the provider returned no content blocks.
	ErrEmptyResponse = errors.New("provider returned empty content")
)

// ProviderError captures structured error responses from the generation API.
// Retryable, when set, overrides the type-based policy so the caller can
// propagate an explicit decision from the upstream body.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after"` // seconds
	Retryable  *bool     `json:"retryable,omitempty"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the provider error warrants another attempt.
func (e *ProviderError) IsRetryable() bool {
	if e.Retryable != nil {
		return *e.Retryable
	}
	if e.Type != "" {
		return e.Type.Retryable()
	}
	t, _ := ClassifyStatus(e.StatusCode)
	return t.Retryable()
}

// GetRetryAfter returns the upstream retry-after hint.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RateLimitError reports an upstream throttling response with reset context.
type RateLimitError struct {
	Provider   string `json:"provider"`
	RetryAfter int    `json:"retry_after"`
	ResetAt    int64  `json:"reset_at"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %d seconds", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Provider)
}

// IsRetryable always reports true; throttling is transient by definition.
func (e *RateLimitError) IsRetryable() bool { return true }

// GetRetryAfter returns the upstream retry-after hint.
func (e *RateLimitError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// ValidationError captures input validation failures with field context.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsRetryable always reports false.
func (e *ValidationError) IsRetryable() bool { return false }

// ClassifyStatus maps an HTTP status code to an error type.
// The second return value is false for status codes that are not errors.
func ClassifyStatus(status int) (ErrorType, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit, true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorTypeTimeout, true
	case status == http.StatusUnauthorized:
		return ErrorTypeAuth, true
	case status == http.StatusForbidden:
		return ErrorTypePermission, true
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ErrorTypeValidation, true
	case status >= 500:
		return ErrorTypeServer, true
	case status >= 400:
		return ErrorTypeClient, true
	default:
		return ErrorTypeUnknown, false
	}
}

// IsRetryableError determines if an error warrants another attempt.
// A structured retryable flag anywhere in the chain wins; message patterns
// are consulted only for untyped errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyLLMError(err).Retryable
}

// IsRateLimitError identifies throttling errors.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	return ClassifyLLMError(err).Type == ErrorTypeRateLimit
}

// GetRetryAfter extracts the retry-after hint in seconds, or 0.
func GetRetryAfter(err error) int {
	if err == nil {
		return 0
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr.RetryAfter
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.RetryAfter
	}

	return 0
}
