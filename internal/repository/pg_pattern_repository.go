package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/document-acquisition-service/internal/domain"
)

// Compile-time interface verification.
var _ PatternRepository = (*PgPatternRepository)(nil)

// PgPatternRepository is a PostgreSQL implementation of PatternRepository.
type PgPatternRepository struct {
	db DBTX
}

// NewPgPatternRepository creates a new PostgreSQL publisher pattern repository.
func NewPgPatternRepository(db DBTX) *PgPatternRepository {
	return &PgPatternRepository{db: db}
}

const patternColumns = `doi_prefix, publisher_name, source_name, url_pattern, success_count, last_success_at`

// ForPrefix returns the patterns for a DOI prefix, most successful first.
func (r *PgPatternRepository) ForPrefix(ctx context.Context, prefix string) ([]domain.PublisherPattern, error) {
	if prefix == "" {
		return nil, domain.NewValidationError("doi_prefix", "DOI prefix is required")
	}

	query := `SELECT ` + patternColumns + `
		FROM publisher_patterns
		WHERE doi_prefix = $1
		ORDER BY success_count DESC, last_success_at DESC`

	rows, err := r.db.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query publisher patterns: %w", err)
	}
	return collectPatterns(rows)
}

// List returns up to limit patterns across all prefixes.
func (r *PgPatternRepository) List(ctx context.Context, limit int) ([]domain.PublisherPattern, error) {
	if limit <= 0 || limit > domain.MaxHistoryLimit {
		limit = domain.MaxHistoryLimit
	}

	query := `SELECT ` + patternColumns + `
		FROM publisher_patterns
		ORDER BY success_count DESC, doi_prefix, source_name
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list publisher patterns: %w", err)
	}
	return collectPatterns(rows)
}

func collectPatterns(rows pgx.Rows) ([]domain.PublisherPattern, error) {
	defer rows.Close()

	var patterns []domain.PublisherPattern
	for rows.Next() {
		var p domain.PublisherPattern
		if err := rows.Scan(&p.DOIPrefix, &p.PublisherName, &p.SourceName, &p.URLPattern, &p.SuccessCount, &p.LastSuccessAt); err != nil {
			return nil, fmt.Errorf("failed to scan publisher pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publisher patterns: %w", err)
	}
	return patterns, nil
}
