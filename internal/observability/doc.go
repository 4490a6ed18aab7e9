// Package observability wires zerolog, Prometheus and OpenTelemetry for the
// acquisition binaries.
//
// Each binary builds one root logger and hands derived loggers down:
//
//	logger := observability.NewLogger(cfg.Logging, "worker")
//	logger = observability.WithAcquisitionContext(logger, projectID, doi)
//
// Request-scoped values (request ID, project, DOI) travel in the context and
// LoggerFromContext folds them into a logger at the point of use.
//
// Metrics are optional. Binaries pass a nil *Metrics when they are disabled
// and the engine checks for nil before recording:
//
//	var m *observability.Metrics
//	if cfg.Metrics.Enabled {
//		m = observability.NewMetrics("document_acquisition")
//	}
//
// Log fields shared across packages: request_id, project_id, doi, source,
// category, latency_ms and trace_id.
package observability
