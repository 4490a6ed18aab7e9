package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/document-acquisition-service/internal/domain"
)

func TestPgAnalyticsRepository_History(t *testing.T) {
	ctx := context.Background()
	columns := []string{
		"id", "project_id", "doi", "source_name", "success", "failure_reason", "failure_category",
		"latency_ms", "size_bytes", "document_url", "attempted_at",
	}

	t.Run("project scoped with default limit", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		size := int64(2048)
		now := time.Now().UTC()
		mock.ExpectQuery(`SELECT .* FROM download_attempts`).
			WithArgs("proj-1", domain.DefaultHistoryLimit).
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow(uuid.New(), "proj-1", "10.1000/a", "arxiv", true, "", "success",
					int64(300), &size, "https://arxiv.org/pdf/1", now).
				AddRow(uuid.New(), "proj-1", "10.1000/a", "openalex", false, "HTTP 404", "not_found",
					int64(80), (*int64)(nil), "", now.Add(-time.Second)))

		repo := NewPgAnalyticsRepository(mock, zerolog.Nop())
		attempts, err := repo.History(ctx, domain.HistoryFilter{ProjectID: "proj-1"})
		require.NoError(t, err)
		require.Len(t, attempts, 2)
		assert.Equal(t, domain.CategorySuccess, attempts[0].FailureCategory)
		require.NotNil(t, attempts[0].SizeBytes)
		assert.Equal(t, int64(2048), *attempts[0].SizeBytes)
		assert.Nil(t, attempts[1].SizeBytes)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("all projects with clamped limit", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT .* FROM download_attempts`).
			WithArgs("", domain.MaxHistoryLimit).
			WillReturnRows(pgxmock.NewRows(columns))

		repo := NewPgAnalyticsRepository(mock, zerolog.Nop())
		attempts, err := repo.History(ctx, domain.HistoryFilter{Limit: 1_000_000})
		require.NoError(t, err)
		assert.Empty(t, attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgAnalyticsRepository_Statistics(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	since := time.Now().UTC().Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(\*\) FILTER \(WHERE success\), COUNT\(DISTINCT doi\)`).
		WithArgs(since, "proj-1").
		WillReturnRows(pgxmock.NewRows([]string{"total", "successes", "dois"}).
			AddRow(int64(10), int64(4), int64(5)))
	mock.ExpectQuery(`SELECT failure_category, COUNT\(\*\)`).
		WithArgs(since, "proj-1").
		WillReturnRows(pgxmock.NewRows([]string{"failure_category", "count"}).
			AddRow("success", int64(4)).
			AddRow("rate_limited", int64(6)))
	mock.ExpectQuery(`SELECT source_name, COUNT\(\*\)`).
		WithArgs(since, "proj-1").
		WillReturnRows(pgxmock.NewRows([]string{"source_name", "attempts", "successes", "avg"}).
			AddRow("openalex", int64(6), int64(0), float64(90)).
			AddRow("unpaywall", int64(4), int64(4), float64(210)))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM retry_queue`).
		WithArgs("proj-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))

	repo := NewPgAnalyticsRepository(mock, zerolog.Nop())
	stats, err := repo.Statistics(context.Background(), "proj-1", since)
	require.NoError(t, err)

	assert.Equal(t, int64(10), stats.TotalAttempts)
	assert.Equal(t, int64(6), stats.Failures)
	assert.InDelta(t, 0.4, stats.SuccessRate, 1e-9)
	assert.Equal(t, int64(5), stats.DistinctDOIs)
	assert.Equal(t, int64(6), stats.ByCategory[domain.CategoryRateLimited])
	require.Len(t, stats.BySource, 2)
	assert.Equal(t, "unpaywall", stats.BySource[1].SourceName)
	assert.Equal(t, int64(1), stats.RetryQueueDepth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgAnalyticsRepository_Cleanup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	mock.ExpectExec(`DELETE FROM download_attempts WHERE attempted_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 42))

	deleted, err := NewPgAnalyticsRepository(mock, zerolog.Nop()).Cleanup(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgAnalyticsRepository_RebuildAggregates(t *testing.T) {
	t.Run("replays the ledger in one transaction", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM source_performance`).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))
		mock.ExpectExec(`INSERT INTO source_performance .* FROM download_attempts GROUP BY source_name`).
			WithArgs(pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 3))
		mock.ExpectExec(`INSERT INTO publisher_patterns .* split_part`).
			WithArgs(pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 5))
		mock.ExpectCommit()

		report, err := NewPgAnalyticsRepository(mock, zerolog.Nop()).RebuildAggregates(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(3), report.Sources)
		assert.Equal(t, int64(5), report.Patterns)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM source_performance`).
			WillReturnError(errors.New("lock timeout"))
		mock.ExpectRollback()

		_, err = NewPgAnalyticsRepository(mock, zerolog.Nop()).RebuildAggregates(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lock timeout")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
