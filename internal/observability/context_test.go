package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		assert.Equal(t, "", RequestIDFromContext(context.Background()))
	})
}

func TestAcquisitionContext(t *testing.T) {
	t.Run("stores and retrieves project and DOI", func(t *testing.T) {
		ctx := WithAcquisition(context.Background(), "proj-789", "10.1000/abc")

		projectID, doi := AcquisitionFromContext(ctx)
		assert.Equal(t, "proj-789", projectID)
		assert.Equal(t, "10.1000/abc", doi)
	})

	t.Run("returns empty strings when not set", func(t *testing.T) {
		projectID, doi := AcquisitionFromContext(context.Background())
		assert.Empty(t, projectID)
		assert.Empty(t, doi)
	})

	t.Run("later values overwrite earlier ones", func(t *testing.T) {
		ctx := WithAcquisition(context.Background(), "p1", "10.1/a")
		ctx = WithAcquisition(ctx, "p2", "10.1/b")

		projectID, doi := AcquisitionFromContext(ctx)
		assert.Equal(t, "p2", projectID)
		assert.Equal(t, "10.1/b", doi)
	})
}

func TestTraceSpanFromContext(t *testing.T) {
	t.Run("no span", func(t *testing.T) {
		traceID, spanID := TraceSpanFromContext(context.Background())
		assert.Empty(t, traceID)
		assert.Empty(t, spanID)
	})

	t.Run("remote span context", func(t *testing.T) {
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: trace.TraceID{0x01, 0x02},
			SpanID:  trace.SpanID{0x03},
		})
		ctx := trace.ContextWithSpanContext(context.Background(), sc)

		traceID, spanID := TraceSpanFromContext(ctx)
		assert.Equal(t, sc.TraceID().String(), traceID)
		assert.Equal(t, sc.SpanID().String(), spanID)
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithAcquisition(ctx, "proj-1", "10.1000/x")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("enriched")

	logEntry := decodeEntry(t, &buf)
	assert.Equal(t, "req-1", logEntry["request_id"])
	assert.Equal(t, "proj-1", logEntry["project_id"])
	assert.Equal(t, "10.1000/x", logEntry["doi"])
	assert.NotContains(t, logEntry, "trace_id")
}
