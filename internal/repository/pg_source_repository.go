package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/document-acquisition-service/internal/database"
	"github.com/helixir/document-acquisition-service/internal/domain"
)

// Compile-time interface verification.
var _ SourceRepository = (*PgSourceRepository)(nil)

// PgSourceRepository is a PostgreSQL implementation of SourceRepository.
type PgSourceRepository struct {
	db TxBeginner
}

// NewPgSourceRepository creates a new PostgreSQL source repository.
func NewPgSourceRepository(db TxBeginner) *PgSourceRepository {
	return &PgSourceRepository{db: db}
}

const sourceStateColumns = `
		s.name, s.enabled, s.base_url, s.requires_credentials, s.timeout_ms,
		s.priority, s.description, s.optional_library, s.created_at, s.updated_at,
		COALESCE(p.attempt_count, 0), COALESCE(p.success_count, 0), COALESCE(p.failure_count, 0),
		COALESCE(p.avg_latency_ms, 0), COALESCE(p.success_rate, 0),
		p.last_success_at, p.last_failure_at, COALESCE(p.updated_at, s.updated_at)`

// EnsureRegistered upserts the bootstrap definition of every source.
func (r *PgSourceRepository) EnsureRegistered(ctx context.Context, sources []domain.Source) error {
	if len(sources) == 0 {
		return nil
	}

	query := `
		INSERT INTO sources (name, enabled, base_url, requires_credentials, timeout_ms,
			priority, description, optional_library, registration_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (name) DO UPDATE SET
			base_url = EXCLUDED.base_url,
			requires_credentials = EXCLUDED.requires_credentials,
			timeout_ms = EXCLUDED.timeout_ms,
			description = EXCLUDED.description,
			optional_library = EXCLUDED.optional_library,
			registration_order = EXCLUDED.registration_order,
			updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	return database.RunInTx(ctx, r.db, zerolog.Nop(), func(tx pgx.Tx) error {
		for i, s := range sources {
			if s.Name == "" {
				return domain.NewValidationError("name", "source name is required")
			}
			if s.Timeout <= 0 {
				return domain.NewValidationError("timeout", fmt.Sprintf("source %s must have a positive timeout", s.Name))
			}
			_, err := tx.Exec(ctx, query,
				s.Name, s.Enabled, s.BaseURL, s.RequiresCredentials, s.Timeout.Milliseconds(),
				s.Priority, s.Description, s.OptionalLibrary, i, now,
			)
			if err != nil {
				return fmt.Errorf("failed to register source %s: %w", s.Name, err)
			}
		}
		return nil
	})
}

// List returns every source with its performance in registration order.
func (r *PgSourceRepository) List(ctx context.Context) ([]domain.SourceState, error) {
	query := `SELECT` + sourceStateColumns + `
		FROM sources s
		LEFT JOIN source_performance p ON p.source_name = s.name
		ORDER BY s.registration_order, s.name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var states []domain.SourceState
	for rows.Next() {
		st, err := scanSourceState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		states = append(states, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}

	return states, nil
}

// Get returns one source with its performance.
func (r *PgSourceRepository) Get(ctx context.Context, name string) (*domain.SourceState, error) {
	query := `SELECT` + sourceStateColumns + `
		FROM sources s
		LEFT JOIN source_performance p ON p.source_name = s.name
		WHERE s.name = $1`

	st, err := scanSourceState(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("source", name)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return st, nil
}

// SetEnabled toggles a source. The change applies to the next acquisition.
func (r *PgSourceRepository) SetEnabled(ctx context.Context, name string, enabled bool) error {
	query := `UPDATE sources SET enabled = $2, updated_at = $3 WHERE name = $1`

	result, err := r.db.Exec(ctx, query, name, enabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set source enabled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("source", name)
	}
	return nil
}

// SetPriority changes the tie-break priority of a source.
func (r *PgSourceRepository) SetPriority(ctx context.Context, name string, priority int) error {
	query := `UPDATE sources SET priority = $2, updated_at = $3 WHERE name = $1`

	result, err := r.db.Exec(ctx, query, name, priority, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set source priority: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("source", name)
	}
	return nil
}

// Rankings returns all sources in selector order, disabled ones included.
func (r *PgSourceRepository) Rankings(ctx context.Context) ([]domain.SourceRanking, error) {
	query := `
		SELECT s.name, s.enabled, s.priority,
			COALESCE(p.success_rate, 0), COALESCE(p.avg_latency_ms, 0), COALESCE(p.attempt_count, 0),
			p.last_success_at, p.last_failure_at
		FROM sources s
		LEFT JOIN source_performance p ON p.source_name = s.name
		ORDER BY COALESCE(p.success_rate, 0) DESC,
			COALESCE(p.avg_latency_ms, 0) ASC,
			s.priority ASC,
			s.registration_order ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query source rankings: %w", err)
	}
	defer rows.Close()

	var rankings []domain.SourceRanking
	for rows.Next() {
		var rk domain.SourceRanking
		if err := rows.Scan(
			&rk.Name, &rk.Enabled, &rk.Priority,
			&rk.SuccessRate, &rk.AvgLatencyMs, &rk.AttemptCount,
			&rk.LastSuccess, &rk.LastFailure,
		); err != nil {
			return nil, fmt.Errorf("failed to scan source ranking: %w", err)
		}
		rankings = append(rankings, rk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rankings: %w", err)
	}

	return rankings, nil
}

func scanSourceState(row pgx.Row) (*domain.SourceState, error) {
	var (
		st        domain.SourceState
		timeoutMs int64
	)
	err := row.Scan(
		&st.Source.Name, &st.Source.Enabled, &st.Source.BaseURL, &st.Source.RequiresCredentials, &timeoutMs,
		&st.Source.Priority, &st.Source.Description, &st.Source.OptionalLibrary, &st.Source.CreatedAt, &st.Source.UpdatedAt,
		&st.Performance.AttemptCount, &st.Performance.SuccessCount, &st.Performance.FailureCount,
		&st.Performance.AvgLatencyMs, &st.Performance.SuccessRate,
		&st.Performance.LastSuccessAt, &st.Performance.LastFailureAt, &st.Performance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Source.Timeout = time.Duration(timeoutMs) * time.Millisecond
	st.Performance.SourceName = st.Source.Name
	return &st, nil
}
