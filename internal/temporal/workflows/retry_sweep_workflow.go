package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	litemporal "github.com/helixir/document-acquisition-service/internal/temporal"
	"github.com/helixir/document-acquisition-service/internal/temporal/activities"
)

const (
	defaultSweepInterval      = time.Minute
	defaultSweepMaxIterations = 500
	sweepActivityTimeout      = 5 * time.Minute
)

// RetrySweepInput is an alias for the shared input type defined in the
// parent temporal package.
type RetrySweepInput = litemporal.RetrySweepInput

// SweepTotals accumulates sweep reports over one workflow run.
type SweepTotals struct {
	Sweeps            int `json:"sweeps"`
	FailedSweeps      int `json:"failed_sweeps"`
	Claimed           int `json:"claimed"`
	Downloaded        int `json:"downloaded"`
	AlreadyPresent    int `json:"already_present"`
	Requeued          int `json:"requeued"`
	PermanentlyFailed int `json:"permanently_failed"`
	Skipped           int `json:"skipped"`
	Errors            int `json:"errors"`
}

func (t *SweepTotals) add(out *activities.SweepRetryQueueOutput) {
	t.Claimed += out.Claimed
	t.Downloaded += out.Downloaded
	t.AlreadyPresent += out.AlreadyPresent
	t.Requeued += out.Requeued
	t.PermanentlyFailed += out.PermanentlyFailed
	t.Skipped += out.Skipped
	t.Errors += out.Errors
}

// RetrySweepWorkflow drains the retry queue forever. Each iteration runs the
// SweepRetryQueue activity and then waits for the interval or a SignalSweepNow.
// After MaxIterations the workflow continues as new to bound its history.
// SignalStopSweep ends it with the totals of the current run.
func RetrySweepWorkflow(ctx workflow.Context, input RetrySweepInput) (*SweepTotals, error) {
	logger := workflow.GetLogger(ctx)

	interval := input.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	iterations := input.MaxIterations
	if iterations <= 0 {
		iterations = defaultSweepMaxIterations
	}

	totals := &SweepTotals{}
	if err := workflow.SetQueryHandler(ctx, QuerySweepTotals, func() (*SweepTotals, error) {
		return totals, nil
	}); err != nil {
		return nil, err
	}

	sweepNowCh := workflow.GetSignalChannel(ctx, SignalSweepNow)
	stopCh := workflow.GetSignalChannel(ctx, SignalStopSweep)

	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: sweepActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
	var acquisitionAct *activities.AcquisitionActivities

	for i := 0; i < iterations; i++ {
		var out activities.SweepRetryQueueOutput
		if err := workflow.ExecuteActivity(actCtx, acquisitionAct.SweepRetryQueue).Get(ctx, &out); err != nil {
			// The next iteration retries; one failed sweep must not end the loop.
			totals.FailedSweeps++
			logger.Warn("retry sweep failed", "iteration", i, "error", err)
		} else {
			totals.add(&out)
		}
		totals.Sweeps++

		stop := false
		timerCtx, cancelTimer := workflow.WithCancel(ctx)
		selector := workflow.NewSelector(ctx)
		selector.AddFuture(workflow.NewTimer(timerCtx, interval), func(workflow.Future) {})
		selector.AddReceive(sweepNowCh, func(c workflow.ReceiveChannel, _ bool) {
			var signal SweepNowSignal
			c.Receive(ctx, &signal)
			logger.Info("sweep requested", "reason", signal.Reason)
		})
		selector.AddReceive(stopCh, func(c workflow.ReceiveChannel, _ bool) {
			c.Receive(ctx, nil)
			stop = true
		})
		selector.Select(ctx)
		cancelTimer()

		if stop {
			logger.Info("retry sweep stopped", "sweeps", totals.Sweeps)
			return totals, nil
		}
	}

	// Signals are not carried across continue-as-new.
	for sweepNowCh.ReceiveAsync(nil) {
	}
	if stopCh.ReceiveAsync(nil) {
		return totals, nil
	}

	logger.Info("retry sweep continuing as new", "sweeps", totals.Sweeps, "claimed", totals.Claimed)
	return nil, workflow.NewContinueAsNewError(ctx, RetrySweepWorkflow, input)
}
