package providers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	llmerrors "github.com/ahrav/go-convgen/internal/llm/errors"
)

// classifyErrorType determines the ErrorType from the provider error code,
// falling back to the HTTP status.
func classifyErrorType(statusCode int, errorCode string) llmerrors.ErrorType {
	lowerCode := strings.ToLower(errorCode)
	switch {
	case strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit"):
		return llmerrors.ErrorTypeRateLimit
	case strings.Contains(lowerCode, "timeout"):
		return llmerrors.ErrorTypeTimeout
	case strings.Contains(lowerCode, "overloaded"), strings.Contains(lowerCode, "api_error"):
		return llmerrors.ErrorTypeServer
	case strings.Contains(lowerCode, "auth") || strings.Contains(lowerCode, "unauthorized"):
		return llmerrors.ErrorTypeAuth
	case strings.Contains(lowerCode, "permission") || strings.Contains(lowerCode, "forbidden"):
		return llmerrors.ErrorTypePermission
	case strings.Contains(lowerCode, "quota"):
		return llmerrors.ErrorTypeQuota
	}

	t, _ := llmerrors.ClassifyStatus(statusCode)
	return t
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. It returns whole seconds, or 0 when absent or unparseable.
func parseRetryAfter(h http.Header, now time.Time) int {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(secs, 0)
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return int((d + time.Second - 1) / time.Second)
		}
	}
	return 0
}
