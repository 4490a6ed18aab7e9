package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helixir/document-acquisition-service/internal/domain"
)

const (
	defaultListLimit   = 50
	maxListLimit       = 1000
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

type acquireRequest struct {
	DOI string `json:"doi" validate:"required,max=512"`
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type setPriorityRequest struct {
	Priority *int `json:"priority" validate:"required,min=0,max=10000"`
}

type cleanupRequest struct {
	RetentionDays int `json:"retention_days" validate:"required,min=1,max=3650"`
}

// acquireDocument handles POST /projects/{projectID}/documents.
func (s *Server) acquireDocument(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if !s.decode(w, r, &req) {
		return
	}

	outcome, err := s.svc.AcquireDocument(r.Context(), projectIDFromContext(r.Context()), req.DOI)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, outcomeStatusCode(outcome.Status), acquireResponse{outcome})
}

// outcomeStatusCode maps an acquisition status to the response code.
func outcomeStatusCode(status domain.AcquisitionStatus) int {
	switch status {
	case domain.StatusDownloaded:
		return http.StatusCreated
	case domain.StatusQueuedForRetry:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

// projectHistory handles GET /projects/{projectID}/documents/history.
func (s *Server) projectHistory(w http.ResponseWriter, r *http.Request) {
	s.history(w, r, projectIDFromContext(r.Context()))
}

// adminHistory handles GET /admin/history across all projects.
func (s *Server) adminHistory(w http.ResponseWriter, r *http.Request) {
	s.history(w, r, r.URL.Query().Get("project_id"))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request, projectID string) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	attempts, err := s.svc.GetDownloadHistory(r.Context(), projectID, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Attempts: nonNil(attempts), Count: len(attempts)})
}

// projectStatistics handles GET /projects/{projectID}/statistics.
func (s *Server) projectStatistics(w http.ResponseWriter, r *http.Request) {
	s.statistics(w, r, projectIDFromContext(r.Context()))
}

// adminStatistics handles GET /admin/statistics.
func (s *Server) adminStatistics(w http.ResponseWriter, r *http.Request) {
	s.statistics(w, r, r.URL.Query().Get("project_id"))
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request, projectID string) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration such as 24h")
			return
		}
		window = d
	}

	stats, err := s.svc.GetStatistics(r.Context(), projectID, window)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domainStatisticsToResponse(stats))
}

// listSourceRankings handles GET /admin/sources.
func (s *Server) listSourceRankings(w http.ResponseWriter, r *http.Request) {
	rankings, err := s.svc.GetSourceRankings(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rankingsResponse{Sources: nonNil(rankings)})
}

// setSourceEnabled handles PUT /admin/sources/{name}/enabled.
func (s *Server) setSourceEnabled(w http.ResponseWriter, r *http.Request) {
	var req setEnabledRequest
	if !s.decode(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.svc.SetSourceEnabled(r.Context(), name, *req.Enabled); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "enabled": *req.Enabled})
}

// setSourcePriority handles PUT /admin/sources/{name}/priority.
func (s *Server) setSourcePriority(w http.ResponseWriter, r *http.Request) {
	var req setPriorityRequest
	if !s.decode(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.svc.SetSourcePriority(r.Context(), name, *req.Priority); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "priority": *req.Priority})
}

// listPatterns handles GET /admin/patterns.
func (s *Server) listPatterns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	patterns, err := s.svc.GetPublisherPatterns(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patternsResponse{Patterns: nonNil(patterns), Count: len(patterns)})
}

// listRetryQueue handles GET /admin/retry-queue.
func (s *Server) listRetryQueue(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.svc.GetRetryQueue(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, retryQueueResponse{Entries: nonNil(entries), Count: len(entries)})
}

// sweepRetryQueue handles POST /admin/retry-queue/sweep.
func (s *Server) sweepRetryQueue(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.SweepRetryQueue(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// cleanupAttempts handles POST /admin/maintenance/cleanup.
func (s *Server) cleanupAttempts(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if !s.decode(w, r, &req) {
		return
	}
	deleted, err := s.svc.CleanupOldAttempts(r.Context(), req.RetentionDays)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{RetentionDays: req.RetentionDays, Deleted: deleted})
}

// rebuildAggregates handles POST /admin/maintenance/rebuild.
func (s *Server) rebuildAggregates(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.RebuildAggregates(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// decode reads a bounded JSON body into dst and validates it. It writes a 400
// and returns false on any problem.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage renders the first failed field without echoing input.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// parseLimit reads the limit query parameter. Missing means the default;
// values above maxListLimit are clamped.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}

// writeDomainError maps domain errors to appropriate HTTP status codes
// without leaking internal details.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrAcquisitionInProgress):
		writeError(w, http.StatusConflict, "acquisition already in progress")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "operation cancelled")
	default:
		s.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
