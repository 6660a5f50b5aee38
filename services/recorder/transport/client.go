// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport delivers recorded events to the collection endpoint.
//
// Delivery is best effort. Each event is POSTed on its own goroutine; a
// network error or non-2xx response moves it to the durable offline queue.
// Resync later sends the whole queue in one batch and removes exactly the
// entries it sent once the endpoint accepts them.
//
// # Retry policy
//
// Resync runs when called explicitly, when the recorder observes the device
// coming back online, once at recorder start if the queue is non-empty, and
// on a fixed interval when Config.ResyncInterval is positive.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/SurveyTrace/pkg/telemetry"
	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
)

const (
	// EventsPath receives single events.
	EventsPath = "/api/events"

	// BatchPath receives the offline queue as a JSON array.
	BatchPath = "/api/events/batch"

	tracerName = "surveytrace/transport"

	// maxErrorBody caps how much of a failed response body is logged.
	maxErrorBody = 512
)

var (
	// ErrNoEndpoint is returned by New when the endpoint is empty.
	ErrNoEndpoint = errors.New("transport endpoint is required")

	// ErrNilQueue is returned by New when no offline queue is supplied.
	ErrNilQueue = errors.New("offline queue is required")

	// ErrOffline is returned by Resync while the device is offline.
	ErrOffline = errors.New("device offline")

	// ErrUnexpectedStatus wraps non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Queue is the durable offline queue the client falls back to.
type Queue interface {
	Append(ctx context.Context, ev events.Event) error
	Load(ctx context.Context) ([]events.Event, error)
	RemoveHead(ctx context.Context, n int) error
}

// Config holds transport settings.
type Config struct {
	// Endpoint is the collector base URL, e.g. "http://localhost:8090".
	Endpoint string

	// Timeout bounds each HTTP request. Default: 10s.
	Timeout time.Duration

	// ResyncInterval enables periodic resync when positive.
	ResyncInterval time.Duration
}

// DefaultConfig returns a config pointing at a local collector.
func DefaultConfig() Config {
	return Config{
		Endpoint: "http://localhost:8090",
		Timeout:  10 * time.Second,
	}
}

// Client sends events and manages the offline queue.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	queue    Queue
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	inflight sync.WaitGroup
	resyncs  singleflight.Group
	offline  atomic.Bool

	resyncInterval time.Duration
	mu             sync.Mutex
	done           chan struct{}
	running        bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout wins over Config.Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metric instruments. Defaults to telemetry.DefaultMetrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates a client.
//
// Inputs:
//
//	cfg - Endpoint is required.
//	queue - Durable offline queue. Required.
//
// Outputs:
//
//	*Client - Ready to Send. Call Stop if ResyncInterval is positive.
//	error - ErrNoEndpoint or ErrNilQueue.
func New(cfg Config, queue Queue, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrNoEndpoint
	}
	if queue == nil {
		return nil, ErrNilQueue
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	c := &Client{
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		http:           &http.Client{Timeout: timeout},
		queue:          queue,
		logger:         slog.Default(),
		resyncInterval: cfg.ResyncInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = telemetry.DefaultMetrics()
	}
	return c, nil
}

// SetOnline records the device's connectivity. While offline, Send queues
// events without attempting the network.
func (c *Client) SetOnline(online bool) {
	c.offline.Store(!online)
}

// Online reports the last connectivity state passed to SetOnline.
func (c *Client) Online() bool {
	return !c.offline.Load()
}

// Send delivers ev asynchronously.
//
// Description:
//
//	Returns immediately. A tracked goroutine POSTs the event to
//	EventsPath; on any failure the event is appended to the offline
//	queue. Cancelling ctx after Send returns does not abort the
//	delivery; the HTTP timeout bounds it.
//
// Thread Safety: Safe for concurrent use.
func (c *Client) Send(ctx context.Context, ev events.Event) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.deliver(context.WithoutCancel(ctx), ev)
	}()
}

func (c *Client) deliver(ctx context.Context, ev events.Event) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "transport.Send")
	defer span.End()
	span.SetAttributes(
		telemetry.AttrSessionID.String(ev.SessionID),
		telemetry.AttrEventType.String(string(ev.Type)),
	)

	var err error
	if c.offline.Load() {
		err = ErrOffline
	} else {
		err = c.post(ctx, EventsPath, ev)
	}
	if err == nil {
		telemetry.SetSpanOK(span)
		c.metrics.DeliveriesTotal.Add(ctx, 1,
			metric.WithAttributes(telemetry.AttrOutcome.String(telemetry.OutcomeDelivered)))
		return
	}

	c.logger.Warn("event delivery failed, queueing offline",
		slog.String("event_id", ev.ID),
		slog.String("event_type", string(ev.Type)),
		slog.String("error", err.Error()))

	if qerr := c.queue.Append(ctx, ev); qerr != nil {
		telemetry.RecordError(span, qerr)
		c.metrics.CountError(ctx, "transport")
		c.logger.Error("offline queue append failed, event dropped from delivery",
			slog.String("event_id", ev.ID),
			slog.String("error", qerr.Error()))
		return
	}
	c.metrics.DeliveriesTotal.Add(ctx, 1,
		metric.WithAttributes(telemetry.AttrOutcome.String(telemetry.OutcomeQueued)))
}

// Resync sends the whole offline queue as one batch.
//
// Description:
//
//	Loads the queue, POSTs it to BatchPath, and on a 2xx response removes
//	exactly the entries that were sent. Entries queued while the batch
//	was in flight stay queued. On failure the queue is untouched.
//	Concurrent callers share a single in-flight resync and its result.
//
// Outputs:
//
//	int - Number of events delivered and removed. Zero for an empty queue.
//	error - ErrOffline, or a load, delivery, or removal failure.
func (c *Client) Resync(ctx context.Context) (int, error) {
	if c.offline.Load() {
		return 0, ErrOffline
	}
	v, err, _ := c.resyncs.Do("resync", func() (any, error) {
		return c.resync(ctx)
	})
	n, _ := v.(int)
	return n, err
}

func (c *Client) resync(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "transport.Resync")
	defer span.End()

	batch, err := c.queue.Load(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("load offline queue: %w", err)
	}
	if len(batch) == 0 {
		telemetry.SetSpanOK(span)
		return 0, nil
	}
	span.SetAttributes(telemetry.AttrBatchSize.Int(len(batch)))

	if err := c.post(ctx, BatchPath, batch); err != nil {
		telemetry.RecordError(span, err)
		c.metrics.ResyncsTotal.Add(ctx, 1,
			metric.WithAttributes(telemetry.AttrStatus.String(telemetry.StatusFailure)))
		return 0, fmt.Errorf("resync %d events: %w", len(batch), err)
	}

	if err := c.queue.RemoveHead(ctx, len(batch)); err != nil {
		telemetry.RecordError(span, err)
		c.metrics.CountError(ctx, "transport")
		return 0, fmt.Errorf("remove %d resynced events: %w", len(batch), err)
	}

	telemetry.SetSpanOK(span)
	c.metrics.ResyncsTotal.Add(ctx, 1,
		metric.WithAttributes(telemetry.AttrStatus.String(telemetry.StatusSuccess)))
	c.metrics.ResyncBatchSize.Record(ctx, int64(len(batch)))
	c.logger.Info("offline queue resynced", slog.Int("count", len(batch)))
	return len(batch), nil
}

// Wait blocks until every in-flight Send has finished or ctx is done.
func (c *Client) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	telemetry.InjectContext(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ===== Periodic Resync =====

// Start launches the periodic resync loop when ResyncInterval is positive.
// It is a no-op otherwise, and when already running.
func (c *Client) Start(ctx context.Context) {
	if c.resyncInterval <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.done = make(chan struct{})

	c.logger.Info("periodic resync starting", slog.String("interval", c.resyncInterval.String()))
	go c.runLoop(ctx, c.done)
}

// Stop halts the periodic resync loop. Safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	close(c.done)
	c.running = false
}

func (c *Client) runLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(c.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if _, err := c.Resync(ctx); err != nil {
				c.logger.Warn("periodic resync failed", slog.String("error", err.Error()))
			}
		}
	}
}
