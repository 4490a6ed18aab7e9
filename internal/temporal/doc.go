// Package temporal provides Temporal integration for the document acquisition
// service.
//
// This package handles client initialization, workflow start and signal
// helpers, and worker lifecycle management. Workflow definitions live in the
// workflows subpackage and activity implementations in activities.
//
// # Client Setup
//
//	cc := temporal.ConfigFrom(cfg.Temporal)
//	c, err := temporal.NewClient(cc, logger)
//	if err != nil {
//	    return err
//	}
//	acq := temporal.NewAcquisitionClient(c, cc)
//	defer acq.Close()
//
// # Retry Sweep
//
// The retry queue is drained by a single long-running workflow with the fixed
// ID RetrySweepWorkflowID. Starting it again attaches to the running execution:
//
//	runID, err := acq.StartRetrySweep(ctx, workflows.RetrySweepWorkflow, temporal.RetrySweepInput{
//	    Interval: time.Minute,
//	})
//
// SignalSweepNow wakes it early and SignalStopSweep ends it. QuerySweepTotals
// returns the counts accumulated by the current run.
//
// # Acquisitions
//
// StartAcquisition runs one (project, DOI) acquisition durably. Its workflow ID
// is derived from the pair, so concurrent requests share one execution.
// AcquireDocument also waits for the outcome; the worker feeds Kafka requests
// through it.
// StartBatch fans a list of DOIs out with bounded concurrency.
//
// # Worker Setup
//
//	mgr, err := temporal.NewWorkerManager(c, temporal.WorkerConfigFrom(cfg.Temporal))
//	mgr.RegisterWorkflow(workflows.RetrySweepWorkflow)
//	mgr.RegisterWorkflow(workflows.AcquireDocumentWorkflow)
//	mgr.RegisterWorkflow(workflows.AcquireBatchWorkflow)
//	mgr.RegisterActivity(activities.NewAcquisitionActivities(orchestrator, sweeper))
//	err = mgr.Run(ctx)
//
// # Error Handling
//
// Client errors are *ClientError values whose Kind is one of the sentinel
// errors, so callers can use errors.Is or the Is* helpers:
//
//	if temporal.IsWorkflowNotFound(err) {
//	    // the sweep is not running
//	}
package temporal
