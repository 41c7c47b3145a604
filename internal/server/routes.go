package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/storage"
)

const readyTimeout = 2 * time.Second

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	if s.deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.deps.Limiter != nil {
			r.Get("/ratelimit", s.handleRateLimitStats)
			r.Get("/ratelimit/{key}", s.handleRateLimitStatus)
			r.Delete("/ratelimit/{key}", s.handleRateLimitReset)
		}
		if s.deps.Breakers != nil {
			r.Get("/circuits", s.handleCircuits)
			r.Delete("/circuits/{key}", s.handleCircuitReset)
		}
		if s.deps.Store != nil {
			r.Get("/conversations", s.handleListConversations)
			r.Get("/conversations/stats", s.handleConversationStats)
			r.Get("/conversations/{id}", s.handleGetConversation)
			r.Get("/conversations/{id}/audit", s.handleAuditHistory)
			r.Get("/generation-logs", s.handleGenerationLogs)
		}
		if s.deps.Generator != nil {
			r.Post("/conversations", s.handleGenerate)
			r.Post("/conversations/{id}/unflag", s.handleUnflag)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports 503 until the store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", "storage", "error", err)
			checks["storage"] = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			checks["storage"] = "healthy"
		}
	}

	overall := "ready"
	if status != http.StatusOK {
		overall = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

func (s *Server) handleRateLimitStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Limiter.Stats())
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Limiter.Status(r.Context(), chi.URLParam(r, "key")))
}

func (s *Server) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.deps.Limiter.Reset(r.Context(), key); err != nil {
		handleError(w, r, err)
		return
	}
	s.logger.Info("rate limit window reset", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCircuits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"circuits": s.deps.Breakers.Snapshot()})
}

func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.deps.Breakers.Reset(key)
	s.logger.Info("circuit breaker reset", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.ConversationFilter{Status: domain.Status(q.Get("status"))}
	if raw := q.Get("tier"); raw != "" {
		tier, err := domain.ParseTier(raw)
		if err != nil {
			handleError(w, r, err)
			return
		}
		filter.Tier = tier
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "offset must be a non-negative integer")
		return
	}

	recs, err := s.deps.Store.ListConversations(r.Context(), filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": recs, "count": len(recs)})
}

func (s *Server) handleConversationStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Store.CountByStatus(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"by_status": counts, "total": counts.Total()})
}

type conversationResponse struct {
	*domain.ConversationRecord
	Turns []domain.Turn `json:"turns"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.deps.Store.GetConversation(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	turns, err := s.deps.Store.GetTurns(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse{ConversationRecord: rec, Turns: turns})
}

func (s *Server) handleAuditHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Store.AuditHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleGenerationLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer")
		return
	}
	logs, err := s.deps.Store.GenerationLogs(r.Context(), limit)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var params domain.GenerationParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be generation params JSON")
		return
	}

	res, err := s.deps.Generator.GenerateSingle(r.Context(), params)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type unflagRequest struct {
	PerformedBy string `json:"performed_by"`
	Comment     string `json:"comment"`
}

func (s *Server) handleUnflag(w http.ResponseWriter, r *http.Request) {
	var req unflagRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON")
			return
		}
	}

	if err := s.deps.Generator.Unflag(r.Context(), chi.URLParam(r, "id"), req.PerformedBy, req.Comment); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
