package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/observability"
	"github.com/helixir/document-acquisition-service/internal/repository"
)

// Config holds the retry queue and sweep settings.
type Config struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Jitter        float64
	BatchSize     int
	Concurrency   int
	LeaseDuration time.Duration
}

// DefaultConfig returns the default retry settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		BaseDelay:     5 * time.Minute,
		MaxDelay:      24 * time.Hour,
		Jitter:        0.2,
		BatchSize:     50,
		Concurrency:   4,
		LeaseDuration: 15 * time.Minute,
	}
}

// Decision is the queue's answer to a transient exhaustion.
type Decision struct {
	Status      domain.AcquisitionStatus
	RetryCount  int
	NextRetryAt *time.Time
}

// Queue applies the retry policy to the retry_queue table.
type Queue struct {
	repo       repository.RetryRepository
	backoff    *Backoff
	maxRetries int
	metrics    *observability.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// NewQueue creates a retry queue. metrics may be nil.
func NewQueue(repo repository.RetryRepository, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Queue {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Queue{
		repo:       repo,
		backoff:    NewBackoff(cfg.BaseDelay, cfg.MaxDelay, cfg.Jitter),
		maxRetries: maxRetries,
		metrics:    metrics,
		logger:     logger.With().Str("component", "retry_queue").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RecordTransientFailure schedules another attempt for (projectID, doi) after
// all sources failed and the last failure was transient.
//
// A new entry starts with retry count 0. An existing entry is incremented; once
// the incremented count reaches MaxRetries the entry is deleted and the DOI is
// reported permanently failed.
func (q *Queue) RecordTransientFailure(ctx context.Context, projectID, doi string, category domain.FailureCategory) (*Decision, error) {
	if !category.IsTransient() {
		return nil, domain.NewValidationError("failure_category", fmt.Sprintf("%s is not retryable", category))
	}

	// A concurrent insert for the same key turns the second pass into an update.
	for pass := 0; pass < 2; pass++ {
		now := q.now()

		existing, err := q.repo.Get(ctx, projectID, doi)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("failed to load retry entry: %w", err)
		}

		if existing == nil {
			next := q.backoff.Next(now, 0)
			err := q.repo.Insert(ctx, &domain.RetryEntry{
				ProjectID:       projectID,
				DOI:             doi,
				FailureCategory: category,
				RetryCount:      0,
				NextRetryAt:     next,
				LastAttemptAt:   now,
			})
			if errors.Is(err, domain.ErrAlreadyExists) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to enqueue retry: %w", err)
			}
			q.logger.Info().
				Str("project_id", projectID).
				Str("doi", doi).
				Str("category", string(category)).
				Time("next_retry_at", next).
				Msg("queued for retry")
			return &Decision{Status: domain.StatusQueuedForRetry, RetryCount: 0, NextRetryAt: &next}, nil
		}

		count := existing.RetryCount + 1
		if count >= q.maxRetries {
			if _, err := q.repo.Delete(ctx, projectID, doi); err != nil {
				return nil, fmt.Errorf("failed to drop exhausted retry entry: %w", err)
			}
			if q.metrics != nil {
				q.metrics.RecordRetryPermanentFailure()
			}
			q.logger.Warn().
				Str("project_id", projectID).
				Str("doi", doi).
				Int("retry_count", count).
				Int("max_retries", q.maxRetries).
				Msg("retry limit reached, giving up")
			return &Decision{Status: domain.StatusPermanentlyFailed, RetryCount: count}, nil
		}

		next := q.backoff.Next(now, count)
		if err := q.repo.UpdateAfterFailure(ctx, existing.ID, category, count, next, now); err != nil {
			return nil, fmt.Errorf("failed to reschedule retry: %w", err)
		}
		q.logger.Info().
			Str("project_id", projectID).
			Str("doi", doi).
			Int("retry_count", count).
			Time("next_retry_at", next).
			Msg("retry rescheduled")
		return &Decision{Status: domain.StatusQueuedForRetry, RetryCount: count, NextRetryAt: &next}, nil
	}

	return nil, fmt.Errorf("retry entry for %s/%s changed concurrently: %w", projectID, doi, domain.ErrAlreadyExists)
}

// Drop removes any queued retry for (projectID, doi).
func (q *Queue) Drop(ctx context.Context, projectID, doi string) (bool, error) {
	removed, err := q.repo.Delete(ctx, projectID, doi)
	if err != nil {
		return false, fmt.Errorf("failed to drop retry entry: %w", err)
	}
	return removed, nil
}
