package acquisition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/repository"
	"github.com/helixir/document-acquisition-service/internal/retry"
)

// Reporting window bounds for GetStatistics.
const (
	DefaultStatisticsWindow = 24 * time.Hour
	MaxStatisticsWindow     = 366 * 24 * time.Hour
)

// Acquirer runs one acquisition.
type Acquirer interface {
	AcquireDocument(ctx context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error)
}

// Sweeper runs one retry sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (*retry.SweepReport, error)
}

// ServiceDeps are the collaborators of a Service.
type ServiceDeps struct {
	Acquirer  Acquirer
	Sweeper   Sweeper
	Sources   repository.SourceRepository
	Patterns  repository.PatternRepository
	Retries   repository.RetryRepository
	Analytics repository.AnalyticsRepository
}

// Service is the inbound surface of the engine: acquisition, admin mutations,
// reporting and maintenance.
type Service struct {
	acquirer  Acquirer
	sweeper   Sweeper
	sources   repository.SourceRepository
	patterns  repository.PatternRepository
	retries   repository.RetryRepository
	analytics repository.AnalyticsRepository
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a service.
func NewService(deps ServiceDeps, logger zerolog.Logger) *Service {
	return &Service{
		acquirer:  deps.Acquirer,
		sweeper:   deps.Sweeper,
		sources:   deps.Sources,
		patterns:  deps.Patterns,
		retries:   deps.Retries,
		analytics: deps.Analytics,
		logger:    logger.With().Str("component", "acquisition_service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AcquireDocument obtains a copy of doi for projectID.
func (s *Service) AcquireDocument(ctx context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error) {
	return s.acquirer.AcquireDocument(ctx, projectID, doi)
}

// GetSourceRankings returns every source in current ranking order.
func (s *Service) GetSourceRankings(ctx context.Context) ([]domain.SourceRanking, error) {
	rankings, err := s.sources.Rankings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load source rankings: %w", err)
	}
	return rankings, nil
}

// SetSourceEnabled enables or disables a source. The change applies to the
// next acquisition.
func (s *Service) SetSourceEnabled(ctx context.Context, name string, enabled bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.NewValidationError("name", "source name is required")
	}
	if err := s.sources.SetEnabled(ctx, name, enabled); err != nil {
		return err
	}
	s.logger.Info().Str("source", name).Bool("enabled", enabled).Msg("source enabled flag changed")
	return nil
}

// SetSourcePriority changes a source's tie-break priority. Lower runs first.
func (s *Service) SetSourcePriority(ctx context.Context, name string, priority int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.NewValidationError("name", "source name is required")
	}
	if priority < 0 {
		return domain.NewValidationError("priority", "priority must not be negative")
	}
	if err := s.sources.SetPriority(ctx, name, priority); err != nil {
		return err
	}
	s.logger.Info().Str("source", name).Int("priority", priority).Msg("source priority changed")
	return nil
}

// GetDownloadHistory returns recent attempts, newest first. An empty project
// spans all projects.
func (s *Service) GetDownloadHistory(ctx context.Context, projectID string, limit int) ([]domain.DownloadAttempt, error) {
	filter := domain.HistoryFilter{ProjectID: strings.TrimSpace(projectID), Limit: limit}
	filter.ApplyDefaults()
	attempts, err := s.analytics.History(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load download history: %w", err)
	}
	return attempts, nil
}

// GetStatistics summarises attempts over the trailing window. A zero window
// uses DefaultStatisticsWindow.
func (s *Service) GetStatistics(ctx context.Context, projectID string, window time.Duration) (*domain.Statistics, error) {
	if window == 0 {
		window = DefaultStatisticsWindow
	}
	if window < 0 || window > MaxStatisticsWindow {
		return nil, domain.NewValidationError("window", fmt.Sprintf("window must be between 0 and %s", MaxStatisticsWindow))
	}

	since := s.now().Add(-window)
	stats, err := s.analytics.Statistics(ctx, strings.TrimSpace(projectID), since)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	stats.Window = window
	stats.Since = since
	return stats, nil
}

// CleanupOldAttempts deletes ledger rows older than retentionDays and returns
// how many were removed. Aggregates are left as they are; RebuildAggregates
// recomputes them from what remains.
func (s *Service) CleanupOldAttempts(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, domain.NewValidationError("retention_days", "retention must be at least one day")
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	deleted, err := s.analytics.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up attempts: %w", err)
	}
	s.logger.Info().
		Int("retention_days", retentionDays).
		Time("cutoff", cutoff).
		Int64("deleted", deleted).
		Msg("old attempts cleaned up")
	return deleted, nil
}

// GetRetryQueue lists queued retries, soonest first.
func (s *Service) GetRetryQueue(ctx context.Context, limit int) ([]domain.RetryEntry, error) {
	entries, err := s.retries.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry queue: %w", err)
	}
	return entries, nil
}

// GetPublisherPatterns lists learned patterns, most successful first.
func (s *Service) GetPublisherPatterns(ctx context.Context, limit int) ([]domain.PublisherPattern, error) {
	patterns, err := s.patterns.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list publisher patterns: %w", err)
	}
	return patterns, nil
}

// RebuildAggregates recomputes performance and patterns from the ledger.
func (s *Service) RebuildAggregates(ctx context.Context) (*repository.RebuildReport, error) {
	report, err := s.analytics.RebuildAggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild aggregates: %w", err)
	}
	s.logger.Info().
		Int64("sources", report.Sources).
		Int64("patterns", report.Patterns).
		Msg("aggregates rebuilt from ledger")
	return report, nil
}

// SweepRetryQueue runs one retry sweep now.
func (s *Service) SweepRetryQueue(ctx context.Context) (*retry.SweepReport, error) {
	if s.sweeper == nil {
		return nil, fmt.Errorf("%w: retry sweeper not configured", domain.ErrServiceUnavailable)
	}
	return s.sweeper.Sweep(ctx)
}
