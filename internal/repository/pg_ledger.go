package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/document-acquisition-service/internal/database"
	"github.com/helixir/document-acquisition-service/internal/domain"
)

// Compile-time interface verification.
var _ Ledger = (*PgLedger)(nil)

// PgLedger is the PostgreSQL attempt ledger. Every Record call inserts one
// download_attempts row and applies the matching aggregate updates in the
// same transaction.
type PgLedger struct {
	db     TxBeginner
	logger zerolog.Logger
}

// NewPgLedger creates a new PostgreSQL ledger.
func NewPgLedger(db TxBeginner, logger zerolog.Logger) *PgLedger {
	return &PgLedger{
		db:     db,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

const insertAttemptQuery = `
	INSERT INTO download_attempts (id, project_id, doi, source_name, success,
		failure_reason, failure_category, latency_ms, size_bytes, document_url, attempted_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// The running average uses the incremental mean so no history is re-read.
const upsertPerformanceQuery = `
	INSERT INTO source_performance (source_name, attempt_count, success_count, failure_count,
		avg_latency_ms, success_rate, last_success_at, last_failure_at, updated_at)
	VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (source_name) DO UPDATE SET
		attempt_count = source_performance.attempt_count + 1,
		success_count = source_performance.success_count + EXCLUDED.success_count,
		failure_count = source_performance.failure_count + EXCLUDED.failure_count,
		avg_latency_ms = source_performance.avg_latency_ms
			+ (EXCLUDED.avg_latency_ms - source_performance.avg_latency_ms) / (source_performance.attempt_count + 1),
		success_rate = (source_performance.success_count + EXCLUDED.success_count)::DOUBLE PRECISION
			/ (source_performance.attempt_count + 1),
		last_success_at = COALESCE(EXCLUDED.last_success_at, source_performance.last_success_at),
		last_failure_at = COALESCE(EXCLUDED.last_failure_at, source_performance.last_failure_at),
		updated_at = EXCLUDED.updated_at`

const upsertPatternQuery = `
	INSERT INTO publisher_patterns (doi_prefix, publisher_name, source_name, url_pattern,
		success_count, last_success_at, created_at)
	VALUES ($1, $2, $3, $4, 1, $5, $5)
	ON CONFLICT (doi_prefix, source_name) DO UPDATE SET
		success_count = publisher_patterns.success_count + 1,
		publisher_name = CASE WHEN EXCLUDED.publisher_name <> '' THEN EXCLUDED.publisher_name
			ELSE publisher_patterns.publisher_name END,
		url_pattern = CASE WHEN EXCLUDED.url_pattern <> '' THEN EXCLUDED.url_pattern
			ELSE publisher_patterns.url_pattern END,
		last_success_at = EXCLUDED.last_success_at`

const clearRetryQuery = `DELETE FROM retry_queue WHERE project_id = $1 AND doi = $2`

// Record writes one attempt and its aggregate updates atomically.
func (l *PgLedger) Record(ctx context.Context, entry LedgerEntry) (*domain.DownloadAttempt, error) {
	a := entry.Attempt
	if err := validateAttempt(&a); err != nil {
		return nil, err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	a.Success = a.FailureCategory.IsSuccess()

	var (
		successInc, failureInc int64
		successRate            float64
		lastSuccess            *time.Time
		lastFailure            *time.Time
	)
	if a.Success {
		successInc, successRate, lastSuccess = 1, 1, &a.AttemptedAt
	} else {
		failureInc, lastFailure = 1, &a.AttemptedAt
	}

	err := database.RunInTx(ctx, l.db, l.logger, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertAttemptQuery,
			a.ID, a.ProjectID, a.DOI, a.SourceName, a.Success,
			a.FailureReason, string(a.FailureCategory), a.LatencyMs, a.SizeBytes, a.DocumentURL, a.AttemptedAt,
		); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}

		if _, err := tx.Exec(ctx, upsertPerformanceQuery,
			a.SourceName, successInc, failureInc, float64(a.LatencyMs), successRate,
			lastSuccess, lastFailure, a.AttemptedAt,
		); err != nil {
			return fmt.Errorf("update source performance: %w", err)
		}

		if !a.Success {
			return nil
		}

		if entry.PatternPrefix != "" {
			if _, err := tx.Exec(ctx, upsertPatternQuery,
				entry.PatternPrefix, entry.PublisherName, a.SourceName, entry.URLPattern, a.AttemptedAt,
			); err != nil {
				return fmt.Errorf("update publisher pattern: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, clearRetryQuery, a.ProjectID, a.DOI); err != nil {
			return fmt.Errorf("clear retry entry: %w", err)
		}
		return nil
	})
	if err != nil {
		l.logger.Error().Err(err).
			Str("project_id", a.ProjectID).
			Str("doi", a.DOI).
			Str("source", a.SourceName).
			Msg("failed to record attempt")
		return nil, fmt.Errorf("%w: %w", domain.ErrLedgerWrite, err)
	}

	return &a, nil
}

func validateAttempt(a *domain.DownloadAttempt) error {
	switch {
	case a.ProjectID == "":
		return domain.NewValidationError("project_id", "project ID is required")
	case a.DOI == "":
		return domain.NewValidationError("doi", "DOI is required")
	case a.SourceName == "":
		return domain.NewValidationError("source_name", "source name is required")
	case !a.FailureCategory.IsValid():
		return domain.NewValidationError("failure_category", fmt.Sprintf("unknown category %q", a.FailureCategory))
	case a.LatencyMs < 0:
		return domain.NewValidationError("latency_ms", "latency cannot be negative")
	}
	return nil
}
