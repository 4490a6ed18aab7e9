// Package repository provides data access interfaces and implementations
// for the Document Acquisition Service.
//
// # Overview
//
// This package defines repository interfaces and their PostgreSQL implementations
// following the repository pattern to abstract data persistence from business logic.
//
// # Repository Interfaces
//
//   - SourceRepository: registered sources and their administrator flags
//   - Ledger: the append-only attempt log and the aggregates derived from it
//   - PatternRepository: learned (DOI prefix, source) success patterns
//   - RetryRepository: DOIs scheduled for a later attempt, with lease-based claiming
//   - AnalyticsRepository: history, statistics, retention cleanup and aggregate rebuilds
//
// # Consistency
//
// download_attempts is the source of truth. source_performance and
// publisher_patterns are only ever changed in the same transaction as a
// ledger insert, or rebuilt wholesale from the ledger by RebuildAggregates.
// All aggregate updates are single-statement upserts with in-SQL increments
// so concurrent writers never lose an increment.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package.
// Common errors include:
//
//   - domain.ErrNotFound: Resource does not exist
//   - domain.ErrAlreadyExists: Unique constraint violation
//   - domain.ErrInvalidInput: Invalid parameters provided
//   - domain.ErrLedgerWrite: an attempt could not be recorded
//
// # Usage Pattern
//
//	db, _ := database.New(ctx, cfg, logger)
//	sourceRepo := repository.NewPgSourceRepository(db)
//	ledger := repository.NewPgLedger(db, logger)
//	retryRepo := repository.NewPgRetryRepository(db)
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/document-acquisition-service/internal/database"
	"github.com/helixir/document-acquisition-service/internal/domain"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// TxBeginner is a DBTX that can also open transactions.
type TxBeginner = database.TxBeginner

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

// SourceRepository manages registered sources.
type SourceRepository interface {
	// EnsureRegistered inserts missing sources and refreshes static metadata
	// of existing ones, in slice order. Enabled flags and priorities of
	// existing rows are administrator-owned and left untouched.
	EnsureRegistered(ctx context.Context, sources []domain.Source) error

	// List returns every source joined with its performance, in registration order.
	List(ctx context.Context) ([]domain.SourceState, error)

	// Get returns one source with its performance.
	Get(ctx context.Context, name string) (*domain.SourceState, error)

	// SetEnabled toggles a source.
	SetEnabled(ctx context.Context, name string, enabled bool) error

	// SetPriority changes the administrator tie-break priority.
	SetPriority(ctx context.Context, name string, priority int) error

	// Rankings returns every source ordered by success rate descending,
	// average latency ascending, then priority ascending.
	Rankings(ctx context.Context) ([]domain.SourceRanking, error)
}

// LedgerEntry is one attempt to be recorded together with its derived updates.
type LedgerEntry struct {
	Attempt domain.DownloadAttempt

	// PatternPrefix, when set on a successful attempt, upserts a publisher pattern.
	PatternPrefix string
	PublisherName string
	URLPattern    string
}

// Ledger records attempts and keeps the derived aggregates in step.
type Ledger interface {
	// Record writes the attempt and its aggregate updates atomically.
	// Any failure is reported as domain.ErrLedgerWrite and nothing is persisted.
	Record(ctx context.Context, entry LedgerEntry) (*domain.DownloadAttempt, error)
}

// PatternRepository reads learned publisher patterns.
type PatternRepository interface {
	// ForPrefix returns the patterns for a DOI prefix, most successful first.
	ForPrefix(ctx context.Context, prefix string) ([]domain.PublisherPattern, error)

	// List returns up to limit patterns, most successful first.
	List(ctx context.Context, limit int) ([]domain.PublisherPattern, error)
}

// RetryRepository manages the retry queue.
type RetryRepository interface {
	Get(ctx context.Context, projectID, doi string) (*domain.RetryEntry, error)
	Insert(ctx context.Context, entry *domain.RetryEntry) error
	// UpdateAfterFailure stores the new retry count and schedule and clears any lease.
	UpdateAfterFailure(ctx context.Context, id uuid.UUID, category domain.FailureCategory, retryCount int, nextRetryAt, attemptedAt time.Time) error
	// Delete removes the entry for (project, DOI) and reports whether one existed.
	Delete(ctx context.Context, projectID, doi string) (bool, error)
	// ClaimDue leases up to limit entries that are due at now and not leased by
	// another worker.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.RetryEntry, error)
	// Release clears a lease if it is still held with token.
	Release(ctx context.Context, id, token uuid.UUID) error
	List(ctx context.Context, limit int) ([]domain.RetryEntry, error)
}

// RebuildReport summarises a RebuildAggregates run.
type RebuildReport struct {
	Sources  int64 `json:"sources"`
	Patterns int64 `json:"patterns"`
}

// AnalyticsRepository serves read-only reporting and ledger maintenance.
type AnalyticsRepository interface {
	History(ctx context.Context, filter domain.HistoryFilter) ([]domain.DownloadAttempt, error)
	Statistics(ctx context.Context, projectID string, since time.Time) (*domain.Statistics, error)
	// Cleanup deletes ledger rows attempted before cutoff and returns how many were removed.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
	// RebuildAggregates recomputes source_performance and publisher_patterns from the ledger.
	RebuildAggregates(ctx context.Context) (*RebuildReport, error)
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
