package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RunMetrics records optimizer and training runs.
type RunMetrics struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	units    metric.Int64Counter
}

// NewRunMetrics creates the run instruments on meter.
func NewRunMetrics(meter metric.Meter) (*RunMetrics, error) {
	runs, err := meter.Int64Counter(
		"transitopt.runs",
		metric.WithDescription("Optimization and training runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"transitopt.run.duration",
		metric.WithDescription("Run duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, err
	}

	units, err := meter.Int64Counter(
		"transitopt.run.units",
		metric.WithDescription("Units of work in a run, by outcome"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}

	return &RunMetrics{runs: runs, duration: duration, units: units}, nil
}

// RecordRun records one completed run. A nil receiver is a no-op.
func (m *RunMetrics) RecordRun(ctx context.Context, kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("run.kind", kind),
		attribute.String("run.status", status),
	)
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

// RecordUnits counts succeeded and failed units of a batch run.
func (m *RunMetrics) RecordUnits(ctx context.Context, kind string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.units.Add(ctx, int64(succeeded), metric.WithAttributes(
		attribute.String("run.kind", kind), attribute.String("unit.outcome", "succeeded")))
	m.units.Add(ctx, int64(failed), metric.WithAttributes(
		attribute.String("run.kind", kind), attribute.String("unit.outcome", "failed")))
}
