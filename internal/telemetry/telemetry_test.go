package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/transitopt/transitopt/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "transitopt-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
	})

	require.NoError(t, err)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("APP_ENV", "staging")

	cfg := telemetry.ConfigFromEnv("transitopt-api", "v1")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "transitopt-api", cfg.ServiceName)
	assert.InDelta(t, 1.0, cfg.SampleRatio, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.MetricInterval)
}

func TestConfigFromEnv_Sampling(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	t.Setenv("OTEL_METRIC_EXPORT_INTERVAL", "5000")

	cfg := telemetry.ConfigFromEnv("transitopt-worker", "v1")
	assert.InDelta(t, 0.25, cfg.SampleRatio, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.MetricInterval)

	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "lots")
	assert.InDelta(t, 1.0, telemetry.ConfigFromEnv("x", "v1").SampleRatio, 1e-9)
}

func TestSampler(t *testing.T) {
	assert.Contains(t, telemetry.Sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, telemetry.Sampler(0.5).Description(), "TraceIDRatioBased{0.5}")
}

func TestRunMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := telemetry.NewRunMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRun(ctx, "routes", "succeeded", 2*time.Second)
	m.RecordRun(ctx, "routes", "partial", time.Second)
	m.RecordUnits(ctx, "routes", 3, 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		names[md.Name] = true
		if md.Name == "transitopt.runs" {
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			assert.Len(t, sum.DataPoints, 2)
		}
	}
	assert.True(t, names["transitopt.runs"])
	assert.True(t, names["transitopt.run.duration"])
	assert.True(t, names["transitopt.run.units"])
}

func TestRunMetrics_NilIsNoop(t *testing.T) {
	var m *telemetry.RunMetrics
	m.RecordRun(context.Background(), "routes", "failed", time.Second)
	m.RecordUnits(context.Background(), "routes", 0, 1)
}
