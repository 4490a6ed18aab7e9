package observability

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	projectIDKey contextKey = "project_id"
	doiKey       contextKey = "doi"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithAcquisition adds the project and DOI being acquired to the context.
func WithAcquisition(ctx context.Context, projectID, doi string) context.Context {
	ctx = context.WithValue(ctx, projectIDKey, projectID)
	return context.WithValue(ctx, doiKey, doi)
}

// AcquisitionFromContext retrieves the project and DOI from context.
// Returns empty strings if not present.
func AcquisitionFromContext(ctx context.Context) (projectID, doi string) {
	projectID, _ = ctx.Value(projectIDKey).(string)
	doi, _ = ctx.Value(doiKey).(string)
	return projectID, doi
}

// TraceSpanFromContext returns the hex trace and span IDs of the active
// OpenTelemetry span, or empty strings when there is none.
func TraceSpanFromContext(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// LoggerFromContext enriches base with every observability field present in ctx.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	lc := base.With()
	if id := RequestIDFromContext(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	if projectID, doi := AcquisitionFromContext(ctx); projectID != "" || doi != "" {
		lc = lc.Str("project_id", projectID).Str("doi", doi)
	}
	if traceID, spanID := TraceSpanFromContext(ctx); traceID != "" {
		lc = lc.Str("trace_id", traceID).Str("span_id", spanID)
	}
	return lc.Logger()
}
