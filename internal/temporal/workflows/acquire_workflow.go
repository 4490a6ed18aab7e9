package workflows

import (
	"fmt"
	"sort"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	litemporal "github.com/helixir/document-acquisition-service/internal/temporal"
	"github.com/helixir/document-acquisition-service/internal/temporal/activities"
)

// Activity timeout constants.
const (
	// acquireActivityTimeout covers one full source walk including the
	// inter-attempt delays.
	acquireActivityTimeout = 10 * time.Minute

	defaultBatchConcurrency = 4
	maxBatchConcurrency     = 32
)

// AcquireBatchInput is an alias for the shared input type defined in the
// parent temporal package.
type AcquireBatchInput = litemporal.AcquireBatchInput

// AcquireBatchResult summarizes a batch acquisition.
type AcquireBatchResult struct {
	ProjectID string

	// Requested is the number of distinct DOIs acquired.
	Requested int

	// ByStatus counts outcomes by acquisition status.
	ByStatus map[string]int

	// Failed lists DOIs whose activity failed outright, sorted.
	Failed []string
}

// acquireActivityOptions retries infrastructure failures and lock contention.
// Invalid input is never retried.
func acquireActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: acquireActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        10 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        5 * time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{activities.ErrTypeInvalidInput},
		},
	}
}

// AcquireDocumentWorkflow runs one acquisition durably. The acquisition itself
// records the ledger and the retry queue, so the workflow result mirrors the
// activity output.
func AcquireDocumentWorkflow(ctx workflow.Context, input activities.AcquireDocumentInput) (*activities.AcquireDocumentOutput, error) {
	logger := workflow.GetLogger(ctx)
	ctx = workflow.WithActivityOptions(ctx, acquireActivityOptions())

	var acquisitionAct *activities.AcquisitionActivities
	var out activities.AcquireDocumentOutput
	if err := workflow.ExecuteActivity(ctx, acquisitionAct.AcquireDocument, input).Get(ctx, &out); err != nil {
		logger.Error("document acquisition failed", "projectID", input.ProjectID, "doi", input.DOI, "error", err)
		return nil, fmt.Errorf("acquire document: %w", err)
	}

	logger.Info("document acquisition completed", "doi", out.DOI, "status", out.Status, "attempts", out.Attempts)
	return &out, nil
}

// AcquireBatchWorkflow acquires a set of DOIs for one project with at most
// MaxConcurrent activities in flight. A failed DOI does not fail the batch.
func AcquireBatchWorkflow(ctx workflow.Context, input AcquireBatchInput) (*AcquireBatchResult, error) {
	logger := workflow.GetLogger(ctx)
	if input.ProjectID == "" {
		return nil, temporal.NewNonRetryableApplicationError("project id must not be empty", activities.ErrTypeInvalidInput, nil)
	}

	limit := input.MaxConcurrent
	if limit <= 0 {
		limit = defaultBatchConcurrency
	}
	if limit > maxBatchConcurrency {
		limit = maxBatchConcurrency
	}

	dois := batchDOIs(input.DOIs)
	result := &AcquireBatchResult{
		ProjectID: input.ProjectID,
		Requested: len(dois),
		ByStatus:  make(map[string]int),
		Failed:    []string{},
	}

	actCtx := workflow.WithActivityOptions(ctx, acquireActivityOptions())
	var acquisitionAct *activities.AcquisitionActivities

	selector := workflow.NewSelector(ctx)
	inFlight := 0
	for _, doi := range dois {
		if inFlight >= limit {
			selector.Select(ctx)
			inFlight--
		}

		doi := doi
		future := workflow.ExecuteActivity(actCtx, acquisitionAct.AcquireDocument, activities.AcquireDocumentInput{
			ProjectID: input.ProjectID,
			DOI:       doi,
		})
		selector.AddFuture(future, func(f workflow.Future) {
			var out activities.AcquireDocumentOutput
			if err := f.Get(ctx, &out); err != nil {
				logger.Warn("batch acquisition failed for doi", "doi", doi, "error", err)
				result.Failed = append(result.Failed, doi)
				return
			}
			result.ByStatus[string(out.Status)]++
		})
		inFlight++
	}
	for ; inFlight > 0; inFlight-- {
		selector.Select(ctx)
	}

	sort.Strings(result.Failed)
	for _, status := range sortedKeys(result.ByStatus) {
		logger.Info("batch acquisition status", "projectID", input.ProjectID, "status", status, "count", result.ByStatus[status])
	}
	logger.Info("batch acquisition completed", "projectID", input.ProjectID, "requested", result.Requested, "failed", len(result.Failed))

	return result, nil
}
