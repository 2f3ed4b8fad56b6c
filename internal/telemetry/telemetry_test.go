package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestInit_NoneInstallsNothing(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled())

	shutdown, err := Init(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{TraceExporter: "jaeger"}, nil)
	assert.True(t, errors.Is(err, ErrUnknownExporter))

	_, err = Init(context.Background(), Config{MetricExporter: "otlp"}, nil)
	assert.True(t, errors.Is(err, ErrUnknownExporter))
}

func TestInit_StdoutTraceWritesSpans(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(tracenoop.NewTracerProvider()) })

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	require.True(t, cfg.Enabled())

	shutdown, err := Init(context.Background(), cfg, &buf)
	require.NoError(t, err)

	_, span := otel.Tracer(InstrumentationName).Start(context.Background(), "search.run")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "search.run")
	assert.Contains(t, buf.String(), "recongo")
}

func TestSearchMetrics_Record(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)

	m, err := NewSearchMetrics(provider.Meter(InstrumentationName))
	require.NoError(t, err)

	m.Steps.Add(ctx, 3)
	m.Solves.Add(ctx, 2, OutcomeAttr("UNSAT"))
	m.Solves.Add(ctx, 1, OutcomeAttr("SAT"))
	m.Skips.Add(ctx, 1)
	m.SolveDuration.Record(ctx, 0.25)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	got := map[string]metricdata.Aggregation{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		got[metric.Name] = metric.Data
	}
	require.Contains(t, got, "recongo.steps")
	require.Contains(t, got, "recongo.solve.duration")

	steps := got["recongo.steps"].(metricdata.Sum[int64])
	require.Len(t, steps.DataPoints, 1)
	assert.Equal(t, int64(3), steps.DataPoints[0].Value)

	solves := got["recongo.solves"].(metricdata.Sum[int64])
	assert.Len(t, solves.DataPoints, 2)
}

func TestNopSearchMetrics(t *testing.T) {
	m := NopSearchMetrics()
	require.NotNil(t, m)
	m.Steps.Add(context.Background(), 1)
	m.SolveDuration.Record(context.Background(), 1)
}
