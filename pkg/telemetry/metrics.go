// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope for SurveyTrace instruments.
const MeterName = "github.com/AleutianAI/SurveyTrace"

// Metrics holds the OpenTelemetry instruments used by the recorder side.
//
// Thread Safety: All instruments are safe for concurrent use.
type Metrics struct {
	// --- Recorder ---

	// EventsRecorded counts appended events by event_type.
	EventsRecorded metric.Int64Counter

	// SnapshotsTotal counts snapshot writes by status.
	SnapshotsTotal metric.Int64Counter

	// SnapshotDuration records snapshot write latency in seconds.
	SnapshotDuration metric.Float64Histogram

	// --- Transport ---

	// DeliveriesTotal counts single sends by outcome (delivered, queued).
	DeliveriesTotal metric.Int64Counter

	// ResyncsTotal counts batch resync attempts by status.
	ResyncsTotal metric.Int64Counter

	// ResyncBatchSize records how many queued events each resync carried.
	ResyncBatchSize metric.Int64Histogram

	// --- Errors ---

	// ErrorsTotal counts errors by component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.EventsRecorded, err = meter.Int64Counter(
		"surveytrace_events_recorded_total",
		metric.WithDescription("Total interaction events appended to session logs"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create events_recorded_total: %w", err)
	}

	m.SnapshotsTotal, err = meter.Int64Counter(
		"surveytrace_snapshots_total",
		metric.WithDescription("Total session snapshot writes"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create snapshots_total: %w", err)
	}

	m.SnapshotDuration, err = meter.Float64Histogram(
		"surveytrace_snapshot_duration_seconds",
		metric.WithDescription("Session snapshot write duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create snapshot_duration: %w", err)
	}

	m.DeliveriesTotal, err = meter.Int64Counter(
		"surveytrace_deliveries_total",
		metric.WithDescription("Total single-event deliveries by outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create deliveries_total: %w", err)
	}

	m.ResyncsTotal, err = meter.Int64Counter(
		"surveytrace_resyncs_total",
		metric.WithDescription("Total offline queue resync attempts"),
		metric.WithUnit("{resync}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create resyncs_total: %w", err)
	}

	m.ResyncBatchSize, err = meter.Int64Histogram(
		"surveytrace_resync_batch_size",
		metric.WithDescription("Queued events carried by one resync"),
		metric.WithUnit("{event}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return nil, fmt.Errorf("create resync_batch_size: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"surveytrace_errors_total",
		metric.WithDescription("Total errors by component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments on the global meter provider, created
// once. Instruments created before Init are delegated to the provider Init
// installs. Falls back to no-op instruments if creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.Meter(MeterName))
		if err != nil {
			otel.Handle(err)
			m, _ = NewMetrics(noop.NewMeterProvider().Meter(MeterName))
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// CountError increments ErrorsTotal for component. Nil receiver is a no-op.
func (m *Metrics) CountError(ctx context.Context, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(componentAttr(component)))
}
