package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/document-acquisition-service/internal/database"
	"github.com/helixir/document-acquisition-service/internal/domain"
)

// Compile-time interface verification.
var _ AnalyticsRepository = (*PgAnalyticsRepository)(nil)

// PgAnalyticsRepository is a PostgreSQL implementation of AnalyticsRepository.
type PgAnalyticsRepository struct {
	db     TxBeginner
	logger zerolog.Logger
}

// NewPgAnalyticsRepository creates a new PostgreSQL analytics repository.
func NewPgAnalyticsRepository(db TxBeginner, logger zerolog.Logger) *PgAnalyticsRepository {
	return &PgAnalyticsRepository{
		db:     db,
		logger: logger.With().Str("component", "analytics").Logger(),
	}
}

// History returns the most recent attempts, optionally for one project.
func (r *PgAnalyticsRepository) History(ctx context.Context, filter domain.HistoryFilter) ([]domain.DownloadAttempt, error) {
	filter.ApplyDefaults()

	query := `
		SELECT id, project_id, doi, source_name, success, failure_reason, failure_category,
			latency_ms, size_bytes, document_url, attempted_at
		FROM download_attempts
		WHERE ($1::TEXT = '' OR project_id = $1)
		ORDER BY attempted_at DESC, id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, filter.ProjectID, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query download history: %w", err)
	}
	defer rows.Close()

	var attempts []domain.DownloadAttempt
	for rows.Next() {
		var (
			a        domain.DownloadAttempt
			category string
		)
		if err := rows.Scan(
			&a.ID, &a.ProjectID, &a.DOI, &a.SourceName, &a.Success, &a.FailureReason, &category,
			&a.LatencyMs, &a.SizeBytes, &a.DocumentURL, &a.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan download attempt: %w", err)
		}
		a.FailureCategory = domain.FailureCategory(category)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating download history: %w", err)
	}

	return attempts, nil
}

// Statistics aggregates the ledger from since onwards, optionally for one project.
func (r *PgAnalyticsRepository) Statistics(ctx context.Context, projectID string, since time.Time) (*domain.Statistics, error) {
	stats := &domain.Statistics{
		ProjectID:  projectID,
		Since:      since,
		ByCategory: make(map[domain.FailureCategory]int64),
	}

	totalsQuery := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE success), COUNT(DISTINCT doi)
		FROM download_attempts
		WHERE attempted_at >= $1 AND ($2::TEXT = '' OR project_id = $2)`

	if err := r.db.QueryRow(ctx, totalsQuery, since, projectID).
		Scan(&stats.TotalAttempts, &stats.Successes, &stats.DistinctDOIs); err != nil {
		return nil, fmt.Errorf("failed to query attempt totals: %w", err)
	}
	stats.Failures = stats.TotalAttempts - stats.Successes
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.TotalAttempts)
	}

	categoryQuery := `
		SELECT failure_category, COUNT(*)
		FROM download_attempts
		WHERE attempted_at >= $1 AND ($2::TEXT = '' OR project_id = $2)
		GROUP BY failure_category`

	rows, err := r.db.Query(ctx, categoryQuery, since, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query category counts: %w", err)
	}
	for rows.Next() {
		var (
			category string
			count    int64
		)
		if err := rows.Scan(&category, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		stats.ByCategory[domain.FailureCategory(category)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category counts: %w", err)
	}

	sourceQuery := `
		SELECT source_name, COUNT(*), COUNT(*) FILTER (WHERE success), COALESCE(AVG(latency_ms), 0)
		FROM download_attempts
		WHERE attempted_at >= $1 AND ($2::TEXT = '' OR project_id = $2)
		GROUP BY source_name
		ORDER BY source_name`

	rows, err = r.db.Query(ctx, sourceQuery, since, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query source statistics: %w", err)
	}
	for rows.Next() {
		var s domain.SourceStatistics
		if err := rows.Scan(&s.SourceName, &s.Attempts, &s.Successes, &s.AvgLatencyMs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan source statistics: %w", err)
		}
		stats.BySource = append(stats.BySource, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source statistics: %w", err)
	}

	queueQuery := `SELECT COUNT(*) FROM retry_queue WHERE ($1::TEXT = '' OR project_id = $1)`
	if err := r.db.QueryRow(ctx, queueQuery, projectID).Scan(&stats.RetryQueueDepth); err != nil {
		return nil, fmt.Errorf("failed to query retry queue depth: %w", err)
	}

	return stats, nil
}

// Cleanup deletes ledger rows attempted before cutoff. Aggregates keep their
// cumulative values; RebuildAggregates re-derives them from what remains.
func (r *PgAnalyticsRepository) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM download_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up download attempts: %w", err)
	}

	deleted := result.RowsAffected()
	r.logger.Info().
		Time("cutoff", cutoff).
		Int64("deleted", deleted).
		Msg("cleaned up old download attempts")
	return deleted, nil
}

const rebuildPerformanceQuery = `
	INSERT INTO source_performance (source_name, attempt_count, success_count, failure_count,
		avg_latency_ms, success_rate, last_success_at, last_failure_at, updated_at)
	SELECT source_name,
		COUNT(*),
		COUNT(*) FILTER (WHERE success),
		COUNT(*) FILTER (WHERE NOT success),
		AVG(latency_ms)::DOUBLE PRECISION,
		(COUNT(*) FILTER (WHERE success))::DOUBLE PRECISION / COUNT(*),
		MAX(attempted_at) FILTER (WHERE success),
		MAX(attempted_at) FILTER (WHERE NOT success),
		$1
	FROM download_attempts
	GROUP BY source_name`

// Patterns whose supporting ledger rows were purged keep their last values.
const rebuildPatternsQuery = `
	INSERT INTO publisher_patterns (doi_prefix, source_name, success_count, last_success_at, created_at)
	SELECT split_part(doi, '/', 1), source_name, COUNT(*), MAX(attempted_at), $1
	FROM download_attempts
	WHERE success
	GROUP BY split_part(doi, '/', 1), source_name
	ON CONFLICT (doi_prefix, source_name) DO UPDATE SET
		success_count = EXCLUDED.success_count,
		last_success_at = EXCLUDED.last_success_at`

// RebuildAggregates replays the ledger into source_performance and publisher_patterns.
func (r *PgAnalyticsRepository) RebuildAggregates(ctx context.Context) (*RebuildReport, error) {
	report := &RebuildReport{}
	now := time.Now().UTC()

	err := database.RunInTx(ctx, r.db, r.logger, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM source_performance`); err != nil {
			return fmt.Errorf("clear source performance: %w", err)
		}

		result, err := tx.Exec(ctx, rebuildPerformanceQuery, now)
		if err != nil {
			return fmt.Errorf("rebuild source performance: %w", err)
		}
		report.Sources = result.RowsAffected()

		result, err = tx.Exec(ctx, rebuildPatternsQuery, now)
		if err != nil {
			return fmt.Errorf("rebuild publisher patterns: %w", err)
		}
		report.Patterns = result.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild aggregates: %w", err)
	}

	r.logger.Info().
		Int64("sources", report.Sources).
		Int64("patterns", report.Patterns).
		Msg("rebuilt aggregates from ledger")
	return report, nil
}
