// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collector is the HTTP endpoint recorders deliver events to.
//
// # Routes
//
//	POST /api/events               one JSON Event
//	POST /api/events/batch         JSON Event array (offline queue resync)
//	GET  /api/sessions             ids of sessions with stored events
//	GET  /api/sessions/:id/events  a session's events in time order
//	GET  /api/sessions/:id/report  analyzer report for a session
//	GET  /health
//	GET  /metrics
//
// A batch is accepted or rejected as a whole, so a recorder never removes
// part of its offline queue for events that were not stored.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/SurveyTrace/pkg/telemetry"
	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
)

const (
	// DefaultMaxBodyBytes caps request bodies.
	DefaultMaxBodyBytes = 16 << 20

	serviceName = "surveytrace-collector"

	// TraceIDHeader carries the request's trace id on every response.
	TraceIDHeader = "X-Trace-Id"
)

// Config configures the server.
type Config struct {
	// Addr is the listen address, e.g. "localhost:8090".
	Addr string

	// MaxBodyBytes caps request bodies. Default: DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration
}

// Server receives and serves collected events.
//
// Thread Safety: Safe for concurrent use once constructed.
type Server struct {
	cfg      Config
	store    *EventStore
	sinks    []Sink
	logger   *slog.Logger
	validate *validator.Validate
	router   *gin.Engine
	tracing  []otelgin.Option
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracerProvider traces requests on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		if tp != nil {
			s.tracing = append(s.tracing, otelgin.WithTracerProvider(tp))
		}
	}
}

// WithSink adds a secondary sink.
func WithSink(sink Sink) Option {
	return func(s *Server) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// New builds a server around store.
func New(cfg Config, store *EventStore, opts ...Option) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		store:    store,
		logger:   slog.Default(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initRouter()
	return s
}

// Router returns the gin engine, for tests and embedding.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) initRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(serviceName, s.tracing...))
	s.router.Use(s.requestLogger())

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metricsHandler()))

	api := s.router.Group("/api")
	{
		api.POST("/events", s.handleEvent)
		api.POST("/events/batch", s.handleBatch)
		api.GET("/sessions", s.handleSessions)
		api.GET("/sessions/:id/events", s.handleSessionEvents)
		api.GET("/sessions/:id/report", s.handleSessionReport)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully and closes
// the sinks.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("collector listening", slog.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("collector server: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runErr = fmt.Errorf("collector shutdown: %w", err)
		}
	}

	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			s.logger.Warn("sink close failed", slog.String("sink", sink.Name()), slog.String("error", err.Error()))
		}
	}
	return runErr
}

// metricsHandler prefers the handler of an active Prometheus exporter.
// Both serve the default registry, where the promauto collectors live.
func metricsHandler() http.Handler {
	if h := telemetry.MetricsHandler(); h != nil {
		return h
	}
	return promhttp.Handler()
}

// requestLogger stamps the trace id on the response and logs each request
// with the trace and span ids of its server span.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()
		if id := telemetry.TraceID(ctx); id != "" {
			c.Header(TraceIDHeader, id)
		}
		c.Next()
		telemetry.LoggerWithTrace(ctx, s.logger).Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}

// ===== Validation =====

func (s *Server) checkEvent(ev events.Event) error {
	if err := s.validate.Struct(ev); err != nil {
		return err
	}
	if !ev.Type.Valid() {
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	if strings.Contains(ev.SessionID, "/") {
		return fmt.Errorf("invalid session id %q", ev.SessionID)
	}
	return nil
}

// ===== Handlers =====

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleEvent(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)

	var ev events.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		requestsRejected.WithLabelValues("single", "decode").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.checkEvent(ev); err != nil {
		requestsRejected.WithLabelValues("single", "invalid").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if !s.persist(c, "single", []events.Event{ev}) {
		return
	}
	c.JSON(http.StatusCreated, gin.H{"stored": 1})
}

func (s *Server) handleBatch(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)

	var batch []events.Event
	if err := c.ShouldBindJSON(&batch); err != nil {
		requestsRejected.WithLabelValues("batch", "decode").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	for i, ev := range batch {
		if err := s.checkEvent(ev); err != nil {
			requestsRejected.WithLabelValues("batch", "invalid").Inc()
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("event %d: %v", i, err)})
			return
		}
	}
	if !s.persist(c, "batch", batch) {
		return
	}
	if len(batch) > 0 {
		batchSize.Observe(float64(len(batch)))
	}
	c.JSON(http.StatusOK, gin.H{"stored": len(batch)})
}

// persist stores evs and mirrors them to the sinks. It writes the error
// response and returns false when the primary store fails.
func (s *Server) persist(c *gin.Context, endpoint string, evs []events.Event) bool {
	ctx := c.Request.Context()
	if err := s.store.Put(ctx, evs...); err != nil {
		requestsRejected.WithLabelValues(endpoint, "store").Inc()
		s.logger.Error("event store write failed",
			slog.Int("count", len(evs)),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store events"})
		return false
	}
	eventsReceived.WithLabelValues(endpoint).Add(float64(len(evs)))

	for _, sink := range s.sinks {
		if err := sink.Write(ctx, evs); err != nil {
			sinkErrors.WithLabelValues(sink.Name()).Inc()
			s.logger.Warn("sink write failed",
				slog.String("sink", sink.Name()),
				slog.String("error", err.Error()))
		}
	}
	return true
}

func (s *Server) handleSessions(c *gin.Context) {
	ids, err := s.store.Sessions(c.Request.Context())
	if err != nil {
		s.logger.Error("list sessions failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids})
}

func (s *Server) sessionEvents(c *gin.Context) ([]events.Event, bool) {
	id := c.Param("id")
	evs, err := s.store.List(c.Request.Context(), id)
	switch {
	case errors.Is(err, ErrUnknownSession):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	case err != nil:
		s.logger.Error("list session events failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return nil, false
	}
	return evs, true
}

func (s *Server) handleSessionEvents(c *gin.Context) {
	evs, ok := s.sessionEvents(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, evs)
}
