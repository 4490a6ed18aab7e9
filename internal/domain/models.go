// Package domain provides domain models and business logic for the Document Acquisition Service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// FailureCategory is the outcome taxonomy every adapter result is mapped into.
// These values must match the CHECK constraint on download_attempts.failure_category.
type FailureCategory string

const (
	CategorySuccess        FailureCategory = "success"
	CategoryRateLimited    FailureCategory = "rate_limited"
	CategoryTimeout        FailureCategory = "timeout"
	CategoryNetworkError   FailureCategory = "network_error"
	CategoryServerError    FailureCategory = "server_error"
	CategoryUnauthorized   FailureCategory = "unauthorized"
	CategoryNotFound       FailureCategory = "not_found"
	CategoryPaywalled      FailureCategory = "paywalled"
	CategoryInvalidContent FailureCategory = "invalid_content"
)

// AllCategories returns every category in declaration order.
func AllCategories() []FailureCategory {
	return []FailureCategory{
		CategorySuccess,
		CategoryRateLimited,
		CategoryTimeout,
		CategoryNetworkError,
		CategoryServerError,
		CategoryUnauthorized,
		CategoryNotFound,
		CategoryPaywalled,
		CategoryInvalidContent,
	}
}

// IsValid reports whether c is one of the known categories.
func (c FailureCategory) IsValid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// IsTransient returns true for failures that may succeed on a later retry.
func (c FailureCategory) IsTransient() bool {
	switch c {
	case CategoryRateLimited, CategoryTimeout, CategoryNetworkError, CategoryServerError:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the category denotes a successful attempt.
func (c FailureCategory) IsSuccess() bool {
	return c == CategorySuccess
}

// AcquisitionStatus is the caller-visible result of an acquisition request.
type AcquisitionStatus string

const (
	StatusAlreadyPresent    AcquisitionStatus = "already_present"
	StatusDownloaded        AcquisitionStatus = "downloaded"
	StatusQueuedForRetry    AcquisitionStatus = "queued_for_retry"
	StatusPermanentlyFailed AcquisitionStatus = "permanently_failed"
)

// AcquisitionOutcome is returned by an acquisition request.
type AcquisitionOutcome struct {
	ProjectID  string            `json:"project_id"`
	DOI        string            `json:"doi"`
	Status     AcquisitionStatus `json:"status"`
	SourceUsed string            `json:"source_used,omitempty"`
	Path       string            `json:"path,omitempty"`
	// Attempts is the number of adapters invoked by this request.
	Attempts int `json:"attempts"`
	// LastCategory is the category of the final failed attempt, if any.
	LastCategory FailureCategory `json:"last_category,omitempty"`
	// RetryCount and NextRetryAt are set when the DOI was queued for retry.
	RetryCount  int        `json:"retry_count,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// Source is a registered document provider.
type Source struct {
	Name                string
	Enabled             bool
	BaseURL             string
	RequiresCredentials bool
	Timeout             time.Duration
	Priority            int
	Description         string
	OptionalLibrary     bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SourcePerformance holds the aggregates derived from the attempt ledger for one source.
type SourcePerformance struct {
	SourceName    string
	AttemptCount  int64
	SuccessCount  int64
	FailureCount  int64
	AvgLatencyMs  float64
	SuccessRate   float64
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	UpdatedAt     time.Time
}

// SourceState combines a source with its current performance aggregates.
// Sources that were never attempted carry a zero-valued Performance.
type SourceState struct {
	Source      Source
	Performance SourcePerformance
}

// SourceRanking is one row of the admin ranking view.
type SourceRanking struct {
	Name         string     `json:"name"`
	Enabled      bool       `json:"enabled"`
	Priority     int        `json:"priority"`
	SuccessRate  float64    `json:"success_rate"`
	AvgLatencyMs float64    `json:"avg_latency_ms"`
	AttemptCount int64      `json:"attempt_count"`
	LastSuccess  *time.Time `json:"last_success_at,omitempty"`
	LastFailure  *time.Time `json:"last_failure_at,omitempty"`
}

// DownloadAttempt is one immutable ledger record of a (DOI, source) trial.
type DownloadAttempt struct {
	ID              uuid.UUID       `json:"id"`
	ProjectID       string          `json:"project_id"`
	DOI             string          `json:"doi"`
	SourceName      string          `json:"source_name"`
	Success         bool            `json:"success"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	FailureCategory FailureCategory `json:"failure_category"`
	LatencyMs       int64           `json:"latency_ms"`
	SizeBytes       *int64          `json:"size_bytes,omitempty"`
	DocumentURL     string          `json:"document_url,omitempty"`
	AttemptedAt     time.Time       `json:"attempted_at"`
}

// PublisherPattern records that a source has succeeded for a DOI prefix.
type PublisherPattern struct {
	DOIPrefix     string    `json:"doi_prefix"`
	PublisherName string    `json:"publisher_name,omitempty"`
	SourceName    string    `json:"source_name"`
	URLPattern    string    `json:"url_pattern,omitempty"`
	SuccessCount  int64     `json:"success_count"`
	LastSuccessAt time.Time `json:"last_success_at"`
}

// RetryEntry is a DOI scheduled for a later acquisition attempt.
type RetryEntry struct {
	ID              uuid.UUID       `json:"id"`
	ProjectID       string          `json:"project_id"`
	DOI             string          `json:"doi"`
	FailureCategory FailureCategory `json:"failure_category"`
	RetryCount      int             `json:"retry_count"`
	NextRetryAt     time.Time       `json:"next_retry_at"`
	LastAttemptAt   time.Time       `json:"last_attempt_at"`
	LeaseToken      *uuid.UUID      `json:"-"`
	LeaseExpiresAt  *time.Time      `json:"lease_expires_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// IsLeased reports whether the entry is claimed by a worker at the given instant.
func (e *RetryEntry) IsLeased(now time.Time) bool {
	return e.LeaseToken != nil && e.LeaseExpiresAt != nil && e.LeaseExpiresAt.After(now)
}

// SourceStatistics summarises one source's attempts inside a reporting window.
type SourceStatistics struct {
	SourceName   string  `json:"source_name"`
	Attempts     int64   `json:"attempts"`
	Successes    int64   `json:"successes"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Statistics is the aggregate reporting view over a time window.
type Statistics struct {
	ProjectID       string                    `json:"project_id,omitempty"`
	Window          time.Duration             `json:"window"`
	Since           time.Time                 `json:"since"`
	TotalAttempts   int64                     `json:"total_attempts"`
	Successes       int64                     `json:"successes"`
	Failures        int64                     `json:"failures"`
	SuccessRate     float64                   `json:"success_rate"`
	DistinctDOIs    int64                     `json:"distinct_dois"`
	ByCategory      map[FailureCategory]int64 `json:"by_category"`
	BySource        []SourceStatistics        `json:"by_source"`
	RetryQueueDepth int64                     `json:"retry_queue_depth"`
}

// Pagination defaults for history queries.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 1000
)

// HistoryFilter narrows a download history query. An empty ProjectID spans all projects.
type HistoryFilter struct {
	ProjectID string
	Limit     int
}

// ApplyDefaults clamps the limit into the allowed range.
func (f *HistoryFilter) ApplyDefaults() {
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
}
