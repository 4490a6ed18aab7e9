package activities

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/retry"
)

// Acquirer runs one acquisition.
type Acquirer interface {
	AcquireDocument(ctx context.Context, projectID, doi string) (*domain.AcquisitionOutcome, error)
}

// Sweeper runs one retry sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (*retry.SweepReport, error)
}

// AcquisitionActivities exposes the acquisition engine to Temporal workflows.
// Methods on this struct are registered as Temporal activities via the worker.
type AcquisitionActivities struct {
	acquirer Acquirer
	sweeper  Sweeper
}

// NewAcquisitionActivities creates a new AcquisitionActivities instance.
func NewAcquisitionActivities(acquirer Acquirer, sweeper Sweeper) *AcquisitionActivities {
	return &AcquisitionActivities{acquirer: acquirer, sweeper: sweeper}
}

// AcquireDocument runs one acquisition. Invalid input fails without retry;
// a lost lock is returned as a retryable ErrTypeInProgress error.
func (a *AcquisitionActivities) AcquireDocument(ctx context.Context, input AcquireDocumentInput) (*AcquireDocumentOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("acquiring document",
		"projectID", input.ProjectID,
		"doi", input.DOI,
		"attempt", activity.GetInfo(ctx).Attempt,
	)

	outcome, err := a.acquirer.AcquireDocument(ctx, input.ProjectID, input.DOI)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
		case errors.Is(err, domain.ErrAcquisitionInProgress):
			return nil, temporal.NewApplicationError(err.Error(), ErrTypeInProgress)
		}
		logger.Error("acquisition failed", "projectID", input.ProjectID, "doi", input.DOI, "error", err)
		return nil, fmt.Errorf("acquire %s: %w", input.DOI, err)
	}

	logger.Info("document acquisition finished",
		"doi", outcome.DOI,
		"status", outcome.Status,
		"source", outcome.SourceUsed,
		"attempts", outcome.Attempts,
	)

	return &AcquireDocumentOutput{
		DOI:         outcome.DOI,
		Status:      outcome.Status,
		SourceUsed:  outcome.SourceUsed,
		Path:        outcome.Path,
		Attempts:    outcome.Attempts,
		NextRetryAt: outcome.NextRetryAt,
	}, nil
}

// SweepRetryQueue runs one retry sweep.
func (a *AcquisitionActivities) SweepRetryQueue(ctx context.Context) (*SweepRetryQueueOutput, error) {
	logger := activity.GetLogger(ctx)

	report, err := a.sweeper.Sweep(ctx)
	if err != nil {
		logger.Error("retry sweep failed", "error", err)
		return nil, fmt.Errorf("sweep retry queue: %w", err)
	}

	if report.Claimed > 0 {
		logger.Info("retry sweep finished",
			"claimed", report.Claimed,
			"downloaded", report.Downloaded,
			"requeued", report.Requeued,
			"permanentlyFailed", report.PermanentlyFailed,
			"errors", report.Errors,
		)
	}

	return &SweepRetryQueueOutput{
		Claimed:           report.Claimed,
		Downloaded:        report.Downloaded,
		AlreadyPresent:    report.AlreadyPresent,
		Requeued:          report.Requeued,
		PermanentlyFailed: report.PermanentlyFailed,
		Skipped:           report.Skipped,
		Errors:            report.Errors,
	}, nil
}
