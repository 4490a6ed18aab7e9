// Package workflows defines Temporal workflow implementations for the
// document acquisition service.
package workflows

import litemporal "github.com/helixir/document-acquisition-service/internal/temporal"

// Re-export signal/query name constants from the parent temporal package for
// convenience. These are defined in the parent package so the client can
// reference them without depending on the workflows package.
const (
	SignalSweepNow   = litemporal.SignalSweepNow
	SignalStopSweep  = litemporal.SignalStopSweep
	QuerySweepTotals = litemporal.QuerySweepTotals
)

// SweepNowSignal asks the retry sweep to run immediately.
type SweepNowSignal struct {
	// Reason is logged by the workflow.
	Reason string `json:"reason"`
}
