// Package telemetry provides OpenTelemetry instrumentation for sync runs
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// SyncMetrics records sync engine measurements. A nil meter provider yields
// a no-op instance so callers never need to guard instrumentation.
type SyncMetrics struct {
	runDuration      metric.Float64Histogram
	recordsProcessed metric.Int64Counter
	activeRuns       metric.Int64UpDownCounter
}

// NewSyncMetrics creates sync metrics instruments on the given provider
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter("feedersync")

	runDuration, err := meter.Float64Histogram(
		"feedersync.run.duration",
		metric.WithDescription("Duration of sync runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	recordsProcessed, err := meter.Int64Counter(
		"feedersync.records.processed",
		metric.WithDescription("Records settled by sync workers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create records counter: %w", err)
	}

	activeRuns, err := meter.Int64UpDownCounter(
		"feedersync.runs.active",
		metric.WithDescription("Sync runs currently pending or processing"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active runs gauge: %w", err)
	}

	return &SyncMetrics{
		runDuration:      runDuration,
		recordsProcessed: recordsProcessed,
		activeRuns:       activeRuns,
	}, nil
}

// RunStarted marks a run as active
func (m *SyncMetrics) RunStarted(ctx context.Context, tenantID, kind string) {
	m.activeRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("kind", kind),
	))
}

// RunFinished records a completed run and releases the active slot
func (m *SyncMetrics) RunFinished(ctx context.Context, tenantID, kind string, success bool, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	)
	m.runDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.activeRuns.Add(ctx, -1, metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("kind", kind),
	))
}

// RecordProcessed counts one settled record
func (m *SyncMetrics) RecordProcessed(ctx context.Context, tenantID, kind string, success bool) {
	m.recordsProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	))
}
