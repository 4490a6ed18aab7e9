package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/helixir/document-acquisition-service/internal/domain"
)

type acquireResponse struct {
	*domain.AcquisitionOutcome
}

type rankingsResponse struct {
	Sources []domain.SourceRanking `json:"sources"`
}

type historyResponse struct {
	Attempts []domain.DownloadAttempt `json:"attempts"`
	Count    int                      `json:"count"`
}

type statisticsResponse struct {
	ProjectID       string                           `json:"project_id,omitempty"`
	Window          string                           `json:"window"`
	Since           time.Time                        `json:"since"`
	TotalAttempts   int64                            `json:"total_attempts"`
	Successes       int64                            `json:"successes"`
	Failures        int64                            `json:"failures"`
	SuccessRate     float64                          `json:"success_rate"`
	DistinctDOIs    int64                            `json:"distinct_dois"`
	ByCategory      map[domain.FailureCategory]int64 `json:"by_category"`
	BySource        []domain.SourceStatistics        `json:"by_source"`
	RetryQueueDepth int64                            `json:"retry_queue_depth"`
}

type retryQueueResponse struct {
	Entries []domain.RetryEntry `json:"entries"`
	Count   int                 `json:"count"`
}

type patternsResponse struct {
	Patterns []domain.PublisherPattern `json:"patterns"`
	Count    int                       `json:"count"`
}

type cleanupResponse struct {
	RetentionDays int   `json:"retention_days"`
	Deleted       int64 `json:"deleted"`
}

func domainStatisticsToResponse(s *domain.Statistics) statisticsResponse {
	byCategory := s.ByCategory
	if byCategory == nil {
		byCategory = map[domain.FailureCategory]int64{}
	}
	bySource := s.BySource
	if bySource == nil {
		bySource = []domain.SourceStatistics{}
	}
	return statisticsResponse{
		ProjectID:       s.ProjectID,
		Window:          s.Window.String(),
		Since:           s.Since,
		TotalAttempts:   s.TotalAttempts,
		Successes:       s.Successes,
		Failures:        s.Failures,
		SuccessRate:     s.SuccessRate,
		DistinctDOIs:    s.DistinctDOIs,
		ByCategory:      byCategory,
		BySource:        bySource,
		RetryQueueDepth: s.RetryQueueDepth,
	}
}

// nonNil keeps empty lists rendered as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// The status line is already out; an encode failure has nowhere to go.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
