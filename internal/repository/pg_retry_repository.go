package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/document-acquisition-service/internal/domain"
)

// Compile-time interface verification.
var _ RetryRepository = (*PgRetryRepository)(nil)

// PgRetryRepository is a PostgreSQL implementation of RetryRepository.
type PgRetryRepository struct {
	db DBTX
}

// NewPgRetryRepository creates a new PostgreSQL retry queue repository.
func NewPgRetryRepository(db DBTX) *PgRetryRepository {
	return &PgRetryRepository{db: db}
}

const retryColumns = `id, project_id, doi, failure_category, retry_count, next_retry_at,
		last_attempt_at, lease_token, lease_expires_at, created_at`

// Get returns the entry for (project, DOI).
func (r *PgRetryRepository) Get(ctx context.Context, projectID, doi string) (*domain.RetryEntry, error) {
	query := `SELECT ` + retryColumns + `
		FROM retry_queue
		WHERE project_id = $1 AND doi = $2`

	e, err := scanRetryEntry(r.db.QueryRow(ctx, query, projectID, doi))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("retry_entry", projectID+"/"+doi)
		}
		return nil, fmt.Errorf("failed to get retry entry: %w", err)
	}
	return e, nil
}

// Insert creates a new entry. A second active entry for the same (project, DOI)
// is rejected with domain.ErrAlreadyExists.
func (r *PgRetryRepository) Insert(ctx context.Context, e *domain.RetryEntry) error {
	if e == nil {
		return domain.NewValidationError("entry", "retry entry is required")
	}
	if !e.FailureCategory.IsTransient() {
		return domain.NewValidationError("failure_category", fmt.Sprintf("%s is not retryable", e.FailureCategory))
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO retry_queue (id, project_id, doi, failure_category, retry_count,
			next_retry_at, last_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	_, err := r.db.Exec(ctx, query,
		e.ID, e.ProjectID, e.DOI, string(e.FailureCategory), e.RetryCount,
		e.NextRetryAt, e.LastAttemptAt, e.CreatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("retry entry for %s/%s: %w", e.ProjectID, e.DOI, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert retry entry: %w", err)
	}
	return nil
}

// UpdateAfterFailure reschedules an entry after another transient failure.
func (r *PgRetryRepository) UpdateAfterFailure(
	ctx context.Context,
	id uuid.UUID,
	category domain.FailureCategory,
	retryCount int,
	nextRetryAt, attemptedAt time.Time,
) error {
	query := `
		UPDATE retry_queue
		SET failure_category = $2, retry_count = $3, next_retry_at = $4, last_attempt_at = $5,
			lease_token = NULL, lease_expires_at = NULL, updated_at = $5
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, string(category), retryCount, nextRetryAt, attemptedAt)
	if err != nil {
		return fmt.Errorf("failed to update retry entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("retry_entry", id.String())
	}
	return nil
}

// Delete removes the entry for (project, DOI).
func (r *PgRetryRepository) Delete(ctx context.Context, projectID, doi string) (bool, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM retry_queue WHERE project_id = $1 AND doi = $2`, projectID, doi)
	if err != nil {
		return false, fmt.Errorf("failed to delete retry entry: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ClaimDue leases due entries. SKIP LOCKED keeps concurrent sweepers from
// blocking on, or double-claiming, the same rows; the lease keeps them hidden
// after this statement commits.
func (r *PgRetryRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.RetryEntry, error) {
	if limit <= 0 {
		return nil, domain.NewValidationError("limit", "limit must be positive")
	}
	if lease <= 0 {
		return nil, domain.NewValidationError("lease", "lease duration must be positive")
	}

	query := `
		WITH due AS (
			SELECT id FROM retry_queue
			WHERE next_retry_at <= $1
				AND (lease_expires_at IS NULL OR lease_expires_at <= $1)
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE retry_queue q
		SET lease_token = $3, lease_expires_at = $4, updated_at = $1
		FROM due
		WHERE q.id = due.id
		RETURNING q.id, q.project_id, q.doi, q.failure_category, q.retry_count, q.next_retry_at,
			q.last_attempt_at, q.lease_token, q.lease_expires_at, q.created_at`

	token := uuid.New()
	rows, err := r.db.Query(ctx, query, now, limit, token, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("failed to claim retry entries: %w", err)
	}
	return collectRetryEntries(rows)
}

// Release clears a lease still held with token.
func (r *PgRetryRepository) Release(ctx context.Context, id, token uuid.UUID) error {
	query := `
		UPDATE retry_queue
		SET lease_token = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND lease_token = $2`

	if _, err := r.db.Exec(ctx, query, id, token); err != nil {
		return fmt.Errorf("failed to release retry lease: %w", err)
	}
	return nil
}

// List returns up to limit entries, soonest first.
func (r *PgRetryRepository) List(ctx context.Context, limit int) ([]domain.RetryEntry, error) {
	if limit <= 0 || limit > domain.MaxHistoryLimit {
		limit = domain.MaxHistoryLimit
	}

	query := `SELECT ` + retryColumns + `
		FROM retry_queue
		ORDER BY next_retry_at
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry entries: %w", err)
	}
	return collectRetryEntries(rows)
}

func collectRetryEntries(rows pgx.Rows) ([]domain.RetryEntry, error) {
	defer rows.Close()

	var entries []domain.RetryEntry
	for rows.Next() {
		e, err := scanRetryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retry entries: %w", err)
	}
	return entries, nil
}

func scanRetryEntry(row pgx.Row) (*domain.RetryEntry, error) {
	var (
		e        domain.RetryEntry
		category string
	)
	err := row.Scan(
		&e.ID, &e.ProjectID, &e.DOI, &category, &e.RetryCount, &e.NextRetryAt,
		&e.LastAttemptAt, &e.LeaseToken, &e.LeaseExpiresAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.FailureCategory = domain.FailureCategory(category)
	return &e, nil
}
