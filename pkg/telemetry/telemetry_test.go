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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")

	cfg := DefaultConfig()
	assert.Equal(t, "surveytrace", cfg.ServiceName)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, "prometheus", cfg.MetricExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
}

func TestDefaultConfig_EnvOverride(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	assert.Equal(t, "stdout", DefaultConfig().TraceExporter)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // exercising the nil guard
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_NoExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "carrier-pigeon"
	cfg.MetricExporter = "none"

	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg.TraceExporter = "none"
	cfg.MetricExporter = "smoke-signal"
	_, err = Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestNewMetrics_RecordsOnReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewMetrics(provider.Meter(MeterName))
	require.NoError(t, err)

	ctx := context.Background()
	m.EventsRecorded.Add(ctx, 2, metric.WithAttributes(AttrEventType.String("emotion_change")))
	m.DeliveriesTotal.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(OutcomeQueued)))
	m.ResyncBatchSize.Record(ctx, 7)
	m.CountError(ctx, "store")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
		}
	}
	assert.True(t, names["surveytrace_events_recorded_total"])
	assert.True(t, names["surveytrace_deliveries_total"])
	assert.True(t, names["surveytrace_resync_batch_size"])
	assert.True(t, names["surveytrace_errors_total"])
}

func TestMetrics_NilCountError(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.CountError(context.Background(), "x") })
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	require.NotNil(t, a)
	assert.Same(t, a, b)
}

func TestRecordError_MarksSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	assert.NotEmpty(t, TraceID(ctx))

	RecordError(span, errors.New("boom"), AttrComponent.String("transport"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "boom", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
}

func TestRecordError_NilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError(nil, errors.New("x"))
		SetSpanOK(nil)
	})
	assert.Empty(t, TraceID(context.Background()))
}

func TestLoggerWithTrace(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	assert.Same(t, base, LoggerWithTrace(context.Background(), base))

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	LoggerWithTrace(ctx, base).Info("hello")
	assert.Contains(t, buf.String(), `"trace_id"`)
}

func TestInjectContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	headers := http.Header{}
	InjectContext(ctx, headers)
	assert.NotEmpty(t, headers.Get("traceparent"))
}
