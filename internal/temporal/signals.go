package temporal

import "time"

// RetrySweepWorkflowID is the fixed workflow ID of the long-running retry
// sweep. At most one sweep runs per namespace.
const RetrySweepWorkflowID = "document-acquisition-retry-sweep"

// Signal and query names for external interaction with the retry sweep.
const (
	// SignalSweepNow wakes the sweep before its interval elapses.
	SignalSweepNow = "sweep-now"

	// SignalStopSweep ends the sweep after the current iteration.
	SignalStopSweep = "stop-sweep"

	// QuerySweepTotals returns the running totals of the current run.
	QuerySweepTotals = "sweep-totals"
)

// RetrySweepInput configures the retry sweep workflow.
type RetrySweepInput struct {
	// Interval is the wait between sweeps.
	Interval time.Duration

	// MaxIterations bounds one run before it continues as new.
	MaxIterations int
}

// AcquireBatchInput requests acquisition of several DOIs for one project.
type AcquireBatchInput struct {
	ProjectID string
	DOIs      []string

	// MaxConcurrent bounds the acquisitions in flight.
	MaxConcurrent int
}

// AcquireDocumentWorkflowID is the workflow ID used for one (project, DOI)
// acquisition, so duplicate requests collapse onto one execution.
func AcquireDocumentWorkflowID(projectID, doi string) string {
	return "acquire-" + projectID + "-" + doi
}

// AcquireBatchWorkflowID is the workflow ID used for a batch request.
func AcquireBatchWorkflowID(projectID, batchID string) string {
	return "acquire-batch-" + projectID + "-" + batchID
}
