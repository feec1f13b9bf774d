// Package telemetry holds the OpenTelemetry instruments recorded by the
// sync engine. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// InstrumentationName identifies the meter.
const InstrumentationName = "github.com/roach88/cartsync"

// Metrics groups the engine's instruments.
type Metrics struct {
	remoteCalls     metric.Int64Counter
	remoteFailures  metric.Int64Counter
	remoteDuration  metric.Float64Histogram
	queueDepth      metric.Int64Gauge
	queueOutcomes   metric.Int64Counter
	migrationRuns   metric.Int64Counter
	migrationLength metric.Float64Histogram
}

// New creates the instruments on a meter obtained from mp. A nil provider
// selects a no-op provider.
func New(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(InstrumentationName)

	var m Metrics
	var err error

	if m.remoteCalls, err = meter.Int64Counter("cartsync.remote.calls",
		metric.WithDescription("Remote Cart API calls by mutation type and outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, fmt.Errorf("remote calls counter: %w", err)
	}

	if m.remoteFailures, err = meter.Int64Counter("cartsync.remote.failures",
		metric.WithDescription("Classified remote failures by category"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, fmt.Errorf("remote failures counter: %w", err)
	}

	if m.remoteDuration, err = meter.Float64Histogram("cartsync.remote.duration",
		metric.WithDescription("Remote Cart API call duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, fmt.Errorf("remote duration histogram: %w", err)
	}

	if m.queueDepth, err = meter.Int64Gauge("cartsync.queue.depth",
		metric.WithDescription("Operations currently held by the offline queue"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, fmt.Errorf("queue depth gauge: %w", err)
	}

	if m.queueOutcomes, err = meter.Int64Counter("cartsync.queue.outcomes",
		metric.WithDescription("Offline queue operation outcomes"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, fmt.Errorf("queue outcomes counter: %w", err)
	}

	if m.migrationRuns, err = meter.Int64Counter("cartsync.migration.runs",
		metric.WithDescription("Guest cart migration runs by final status"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, fmt.Errorf("migration runs counter: %w", err)
	}

	if m.migrationLength, err = meter.Float64Histogram("cartsync.migration.duration",
		metric.WithDescription("Guest cart migration wall-clock duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("migration duration histogram: %w", err)
	}

	return &m, nil
}

// RemoteCall records one remote attempt. category is empty on success.
func (m *Metrics) RemoteCall(ctx context.Context, op, category string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if category != "" {
		outcome = "error"
		m.remoteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
	}
	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome))
	m.remoteCalls.Add(ctx, 1, attrs)
	m.remoteDuration.Record(ctx, d.Seconds(), attrs)
}

// QueueDepth records the current number of queued operations.
func (m *Metrics) QueueDepth(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.queueDepth.Record(ctx, int64(n))
}

// QueueOutcome counts a terminal or notable queue transition: completed,
// cancelled, evicted, merged, retrying.
func (m *Metrics) QueueOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.queueOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// MigrationRun records a finished migration.
func (m *Metrics) MigrationRun(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.migrationRuns.Add(ctx, 1, attrs)
	m.migrationLength.Record(ctx, d.Seconds(), attrs)
}
