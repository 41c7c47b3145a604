package errors

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
)

// retryabler is implemented by any error that carries its own retry decision.
type retryabler interface {
	IsRetryable() bool
}

// statusCoder is implemented by errors exposing an HTTP-like status.
type statusCoder interface {
	StatusCode() int
}

// ClassifyLLMError transforms a generation-call error into a WorkflowError
// with retry guidance. Classification runs in order: known typed errors,
// structured retry flags and status codes, sentinels and context errors,
// then message patterns.
func ClassifyLLMError(err error) *WorkflowError {
	if err == nil {
		return nil
	}

	if workflowErr := classifyTypedErrors(err); workflowErr != nil {
		return workflowErr
	}

	if workflowErr := classifyStructuredErrors(err); workflowErr != nil {
		return workflowErr
	}

	if workflowErr := classifySentinelErrors(err); workflowErr != nil {
		return workflowErr
	}

	return classifyStringPatternErrors(err)
}

func classifyTypedErrors(err error) *WorkflowError {
	var workflowErr *WorkflowError
	if errors.As(err, &workflowErr) {
		return workflowErr
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		typ := providerErr.Type
		if typ == "" {
			typ, _ = ClassifyStatus(providerErr.StatusCode)
		}
		return &WorkflowError{
			Type:      typ,
			Message:   providerErr.Message,
			Code:      providerErr.Code,
			Retryable: providerErr.IsRetryable(),
			Details: map[string]any{
				"provider":    providerErr.Provider,
				"status_code": providerErr.StatusCode,
			},
			Cause: err,
		}
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   rateLimitErr.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Details: map[string]any{
				"provider":    rateLimitErr.Provider,
				"retry_after": rateLimitErr.RetryAfter,
			},
			Cause: err,
		}
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return &WorkflowError{
			Type:      ErrorTypeValidation,
			Message:   valErr.Error(),
			Code:      "VALIDATION",
			Retryable: false,
			Details: map[string]any{
				"field": valErr.Field,
				"value": valErr.Value,
			},
			Cause: err,
		}
	}

	return nil
}

// classifyStructuredErrors honours retry flags and status codes carried by
// errors this package does not know about.
func classifyStructuredErrors(err error) *WorkflowError {
	var flagged retryabler
	if errors.As(err, &flagged) {
		typ := patternType(err)
		if !flagged.IsRetryable() && typ.Retryable() {
			typ = ErrorTypeValidation
		}
		return &WorkflowError{
			Type:      typ,
			Message:   err.Error(),
			Code:      "FLAGGED",
			Retryable: flagged.IsRetryable(),
			Cause:     err,
		}
	}

	var coded statusCoder
	if errors.As(err, &coded) {
		typ, isErr := ClassifyStatus(coded.StatusCode())
		if isErr {
			return &WorkflowError{
				Type:      typ,
				Message:   err.Error(),
				Code:      "HTTP_STATUS",
				Retryable: typ.Retryable(),
				Details:   map[string]any{"status_code": coded.StatusCode()},
				Cause:     err,
			}
		}
	}

	return nil
}

func classifySentinelErrors(err error) *WorkflowError {
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   err.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrProviderUnavailable):
		return &WorkflowError{
			Type:      ErrorTypeServer,
			Message:   err.Error(),
			Code:      "PROVIDER_UNAVAILABLE",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrEmptyResponse):
		return &WorkflowError{
			Type:      ErrorTypeValidation,
			Message:   err.Error(),
			Code:      "INVALID_RESPONSE",
			Retryable: false,
			Cause:     err,
		}
	case errors.Is(err, context.Canceled):
		return &WorkflowError{
			Type:      ErrorTypeCanceled,
			Message:   err.Error(),
			Code:      "CANCELED",
			Retryable: false,
			Cause:     err,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &WorkflowError{
			Type:      ErrorTypeTimeout,
			Message:   err.Error(),
			Code:      "TIMEOUT",
			Retryable: true,
			Cause:     err,
		}
	}

	if isNetworkError(err) {
		return &WorkflowError{
			Type:      ErrorTypeNetwork,
			Message:   err.Error(),
			Code:      "NETWORK_ERROR",
			Retryable: true,
			Cause:     err,
		}
	}

	return nil
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// messagePattern is one row of the fallback classification table. Rows are
// evaluated in order and the first match wins.
type messagePattern struct {
	typ     ErrorType
	code    string
	message string
	needles []string
	status  *regexp.Regexp
}

var messagePatterns = []messagePattern{
	{
		typ:     ErrorTypeRateLimit,
		code:    "RATE_LIMIT",
		message: "Rate limit exceeded",
		needles: []string{"rate limit", "rate_limit", "too many requests"},
		status:  regexp.MustCompile(`\b429\b`),
	},
	{
		typ:     ErrorTypeServer,
		code:    "SERVER_ERROR",
		message: "Upstream server error",
		needles: []string{
			"internal server error", "bad gateway", "service unavailable",
			"gateway timeout", "overloaded", "server error",
		},
		status: regexp.MustCompile(`\b50[0-4]\b`),
	},
	{
		typ:     ErrorTypeTimeout,
		code:    "TIMEOUT",
		message: "Request timeout",
		needles: []string{"etimedout", "timeout", "timed out", "deadline exceeded"},
	},
	{
		typ:     ErrorTypeNetwork,
		code:    "NETWORK_ERROR",
		message: "Network error",
		needles: []string{
			"econnrefused", "econnreset", "socket hang up", "connection refused",
			"connection reset", "broken pipe", "no such host", "network is unreachable",
			"network error", "connection closed",
		},
	},
	{
		typ:     ErrorTypeAuth,
		code:    "AUTH_FAILED",
		message: "Authentication failed",
		needles: []string{"unauthorized", "authentication", "invalid api key", "invalid x-api-key"},
		status:  regexp.MustCompile(`\b401\b`),
	},
	{
		typ:     ErrorTypePermission,
		code:    "PERMISSION_DENIED",
		message: "Permission denied",
		needles: []string{"forbidden", "permission"},
		status:  regexp.MustCompile(`\b403\b`),
	},
	{
		typ:     ErrorTypeQuota,
		code:    "QUOTA_EXCEEDED",
		message: "Quota exceeded",
		needles: []string{"quota", "credit balance"},
	},
	{
		typ:     ErrorTypeValidation,
		code:    "VALIDATION",
		message: "Invalid request",
		needles: []string{"validation", "invalid request", "malformed"},
		status:  regexp.MustCompile(`\b(400|422)\b`),
	},
	{
		typ:     ErrorTypeClient,
		code:    "CLIENT_ERROR",
		message: "Request rejected",
		needles: []string{"not found", "bad request"},
		status:  regexp.MustCompile(`\b4\d\d\b`),
	},
}

func (p messagePattern) matches(msg string) bool {
	for _, needle := range p.needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return p.status != nil && p.status.MatchString(msg)
}

func patternType(err error) ErrorType {
	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		if p.matches(msg) {
			return p.typ
		}
	}
	return ErrorTypeUnknown
}

// classifyStringPatternErrors is the fallback for untyped errors. Network,
// timeout, throttling and 5xx families are retryable; everything else is not.
func classifyStringPatternErrors(err error) *WorkflowError {
	msg := strings.ToLower(err.Error())

	for _, p := range messagePatterns {
		if !p.matches(msg) {
			continue
		}
		return &WorkflowError{
			Type:      p.typ,
			Message:   p.message,
			Code:      p.code,
			Retryable: p.typ.Retryable(),
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	}

	return &WorkflowError{
		Type:      ErrorTypeUnknown,
		Message:   "Unknown error",
		Code:      "UNKNOWN",
		Retryable: false,
		Details:   map[string]any{"original_error": err.Error()},
		Cause:     err,
	}
}
