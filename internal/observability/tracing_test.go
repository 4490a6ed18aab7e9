package observability

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/helixir/document-acquisition-service/internal/config"
)

func TestInitTracing_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := InitTracing(context.Background(), config.TracingConfig{Enabled: false}, "test", zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestInitTracing_Stdout(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	cfg := config.TracingConfig{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "docacq-test",
		SampleRate:  1.0,
	}

	shutdown, err := InitTracing(context.Background(), cfg, "test", zerolog.Nop())
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "check")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}

func TestTracer_NoopByDefault(t *testing.T) {
	ctx, span := Tracer().Start(context.Background(), "noop")
	defer span.End()

	traceID, _ := TraceSpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		assert.Empty(t, traceID)
	}
}
