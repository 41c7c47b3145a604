package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/generation"
	llmerrors "github.com/ahrav/go-convgen/internal/llm/errors"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{
		Code:      code,
		Message:   msg,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

// handleError maps domain and generation errors onto HTTP statuses.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *llmerrors.ValidationError
		parseErr      *generation.ParseError
		artifactErr   *generation.ArtifactValidationError
	)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	case errors.Is(err, domain.ErrInvalidParams), errors.Is(err, domain.ErrInvalidTier), errors.As(err, &validationErr):
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	case errors.As(err, &parseErr), errors.As(err, &artifactErr):
		writeError(w, r, http.StatusBadGateway, "INVALID_MODEL_OUTPUT", err.Error())
		return
	}

	wfErr := llmerrors.ClassifyLLMError(err)
	switch wfErr.Type {
	case llmerrors.ErrorTypeRateLimit, llmerrors.ErrorTypeQuota:
		writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", wfErr.Message)
	case llmerrors.ErrorTypeCircuitOpen:
		if secs := llmerrors.GetRetryAfter(err); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", wfErr.Message)
	case llmerrors.ErrorTypeTimeout:
		writeError(w, r, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", wfErr.Message)
	case llmerrors.ErrorTypeServer, llmerrors.ErrorTypeNetwork, llmerrors.ErrorTypeAuth, llmerrors.ErrorTypePermission:
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", wfErr.Message)
	default:
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}
