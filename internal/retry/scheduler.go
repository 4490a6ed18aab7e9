package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/observability"
	"github.com/helixir/document-acquisition-service/internal/repository"
)

// Acquirer re-runs the acquisition for one DOI. The orchestrator updates or
// clears the retry entry itself as part of the run.
type Acquirer interface {
	AcquireDocument(ctx context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error)
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Claimed           int `json:"claimed"`
	Downloaded        int `json:"downloaded"`
	AlreadyPresent    int `json:"already_present"`
	Requeued          int `json:"requeued"`
	PermanentlyFailed int `json:"permanently_failed"`
	Skipped           int `json:"skipped"`
	Errors            int `json:"errors"`
}

// Scheduler processes due retry entries.
type Scheduler struct {
	repo     repository.RetryRepository
	acquirer Acquirer
	cfg      Config
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewScheduler creates a sweep scheduler. metrics may be nil.
func NewScheduler(repo repository.RetryRepository, acquirer Acquirer, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultConfig().LeaseDuration
	}
	return &Scheduler{
		repo:     repo,
		acquirer: acquirer,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With().Str("component", "retry_scheduler").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sweep leases due entries and re-runs the acquisition for each of them with
// bounded concurrency. Entries that end in an error keep their lease until it
// expires, which delays the next try by LeaseDuration.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepReport, error) {
	entries, err := s.repo.ClaimDue(ctx, s.now(), s.cfg.BatchSize, s.cfg.LeaseDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due retries: %w", err)
	}

	report := &SweepReport{Claimed: len(entries)}
	if s.metrics != nil {
		s.metrics.RecordRetrySweep(len(entries))
	}
	if len(entries) == 0 {
		return report, nil
	}

	s.logger.Info().Int("claimed", len(entries)).Msg("retry sweep started")

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)

	for i := range entries {
		entry := entries[i]
		if ctx.Err() != nil {
			// Not started: hand the lease back for the next sweep.
			s.release(context.WithoutCancel(ctx), entry)
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			result := s.process(ctx, entry)
			mu.Lock()
			defer mu.Unlock()
			switch result {
			case resultDownloaded:
				report.Downloaded++
			case resultAlreadyPresent:
				report.AlreadyPresent++
			case resultRequeued:
				report.Requeued++
			case resultPermanentlyFailed:
				report.PermanentlyFailed++
			case resultSkipped:
				report.Skipped++
			default:
				report.Errors++
			}
			if s.metrics != nil {
				s.metrics.RecordRetryProcessed(result)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Int("claimed", report.Claimed).
		Int("downloaded", report.Downloaded).
		Int("already_present", report.AlreadyPresent).
		Int("requeued", report.Requeued).
		Int("permanently_failed", report.PermanentlyFailed).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Msg("retry sweep finished")

	return report, nil
}

const (
	resultDownloaded        = "downloaded"
	resultAlreadyPresent    = "already_present"
	resultRequeued          = "requeued"
	resultPermanentlyFailed = "permanently_failed"
	resultSkipped           = "skipped"
	resultError             = "error"
)

func (s *Scheduler) process(ctx context.Context, entry domain.RetryEntry) string {
	logger := s.logger.With().
		Str("project_id", entry.ProjectID).
		Str("doi", entry.DOI).
		Int("retry_count", entry.RetryCount).
		Logger()

	outcome, err := s.acquirer.AcquireDocument(ctx, entry.ProjectID, entry.DOI)
	if err != nil {
		if errors.Is(err, domain.ErrAcquisitionInProgress) {
			s.release(context.WithoutCancel(ctx), entry)
			logger.Debug().Msg("retry skipped, acquisition already in progress")
			return resultSkipped
		}
		logger.Error().Err(err).Msg("retry attempt failed")
		return resultError
	}

	switch outcome.Status {
	case domain.StatusDownloaded:
		return resultDownloaded
	case domain.StatusAlreadyPresent:
		if _, err := s.repo.Delete(ctx, entry.ProjectID, entry.DOI); err != nil {
			logger.Error().Err(err).Msg("failed to drop retry entry for present document")
			return resultError
		}
		return resultAlreadyPresent
	case domain.StatusQueuedForRetry:
		s.release(context.WithoutCancel(ctx), entry)
		return resultRequeued
	case domain.StatusPermanentlyFailed:
		return resultPermanentlyFailed
	default:
		logger.Error().Str("status", string(outcome.Status)).Msg("unexpected acquisition status")
		return resultError
	}
}

// release clears this sweep's lease. A lease already cleared by a reschedule
// is left alone because the token no longer matches.
func (s *Scheduler) release(ctx context.Context, entry domain.RetryEntry) {
	if entry.LeaseToken == nil {
		return
	}
	if err := s.repo.Release(ctx, entry.ID, *entry.LeaseToken); err != nil {
		s.logger.Warn().Err(err).
			Str("project_id", entry.ProjectID).
			Str("doi", entry.DOI).
			Msg("failed to release retry lease")
	}
}
