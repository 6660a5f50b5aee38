// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recorder captures the interaction events of one survey session.
//
// A Recorder owns the session state (phase, house context, timers) and the
// append-only event log. Every recorded event is enriched with that state,
// appended synchronously, and then handed to the transport for
// asynchronous delivery. The log is snapshotted to the store on a timer,
// on page unload, and at cleanup.
//
// # Lifecycle
//
//	rec, err := recorder.Open(ctx, recorder.Options{Store: st, Transport: tc})
//	rec.SetPhase("welcome")
//	rec.RecordEmotion("large_house", 2)
//	...
//	rec.Cleanup(ctx)
//
// Thread Safety:
//
//	Recorder is safe for concurrent use. All state and log mutation happens
//	under one mutex; delivery and persistence run outside it.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/SurveyTrace/pkg/telemetry"
	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
	"github.com/AleutianAI/SurveyTrace/services/recorder/signals"
	"github.com/AleutianAI/SurveyTrace/services/recorder/store"
)

const (
	// DefaultSnapshotInterval is how often the log is snapshotted.
	DefaultSnapshotInterval = 10 * time.Second

	tracerName = "surveytrace/recorder"
)

// ErrNilStore is returned by Open without a store.
var ErrNilStore = errors.New("recorder store is required")

// Persistence is the snapshot side of the store.
type Persistence interface {
	Snapshot(ctx context.Context, snap store.Snapshot) error
	Restore(ctx context.Context, sessionID string) (store.Snapshot, bool)
	Len(ctx context.Context) (int, error)
}

// Transport delivers events off the device.
type Transport interface {
	Send(ctx context.Context, ev events.Event)
	Resync(ctx context.Context) (int, error)
	SetOnline(online bool)
	Wait(ctx context.Context) error
}

// Options configures a Recorder.
type Options struct {
	// SessionID resumes a stored session when set. A new id is generated
	// when empty, and an unknown id starts a fresh session under that id.
	SessionID string

	// Store persists snapshots. Required.
	Store Persistence

	// Transport delivers events. Nil records locally only.
	Transport Transport

	// Signals feeds passive host signals. Optional.
	Signals signals.Source

	// Gate samples high-frequency signals. Default: signals.DefaultGate().
	Gate *signals.Gate

	// SnapshotInterval sets the autosave period. Zero means
	// DefaultSnapshotInterval; negative disables autosave.
	SnapshotInterval time.Duration

	// EmotionRange bounds emotion values to [-EmotionRange, +EmotionRange].
	// Default: events.DefaultEmotionRange.
	EmotionRange float64

	// Clock overrides time.Now.
	Clock func() time.Time

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Partial is a caller-supplied event before enrichment.
type Partial struct {
	Type events.Type

	// Data is marshalled to JSON. json.RawMessage is used as is.
	Data any
}

// Recorder is the per-session event recorder.
type Recorder struct {
	store        Persistence
	transport    Transport
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	now          func() time.Time
	emotionRange float64
	gate         *signals.Gate

	mu           sync.Mutex
	sessionID    string
	startTime    time.Time
	phase        string
	phaseStart   time.Time
	house        string
	log          []events.Event
	lastRelative int64
	seq          int64
	closed       bool
	resumed      bool

	autosave    *autosaver
	stopSignals chan struct{}
	background  sync.WaitGroup
	cleanupOnce sync.Once
	cleanupErr  error
}

// Open creates a recorder, resuming the stored session when
// opts.SessionID names one.
//
// Description:
//
//	On resume the event log, current phase and start time come from the
//	snapshot as stored; events are not re-enriched. The phase timer
//	restarts at open. If the offline queue holds entries, one resync is
//	started in the background.
//
// Inputs:
//
//	ctx - Used for the restore and queue checks.
//	opts - Store is required.
//
// Outputs:
//
//	*Recorder - Call Cleanup when the session ends.
//	error - ErrNilStore.
func Open(ctx context.Context, opts Options) (*Recorder, error) {
	if opts.Store == nil {
		return nil, ErrNilStore
	}

	r := &Recorder{
		store:        opts.Store,
		transport:    opts.Transport,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Clock,
		emotionRange: opts.EmotionRange,
		gate:         opts.Gate,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = telemetry.DefaultMetrics()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.emotionRange <= 0 {
		r.emotionRange = events.DefaultEmotionRange
	}
	if r.gate == nil {
		r.gate = signals.DefaultGate()
	}

	now := r.now()
	r.sessionID = opts.SessionID
	r.startTime = now
	r.phaseStart = now

	if r.sessionID == "" {
		r.sessionID = events.NewSessionID()
	} else if snap, ok := r.store.Restore(ctx, r.sessionID); ok {
		r.resume(snap)
	}
	r.logger = r.logger.With(slog.String("session_id", r.sessionID))

	interval := opts.SnapshotInterval
	if interval == 0 {
		interval = DefaultSnapshotInterval
	}
	if interval > 0 {
		r.autosave = newAutosaver(interval, r.autosnapshot, r.logger)
		r.autosave.Start(context.WithoutCancel(ctx))
	}

	if opts.Signals != nil {
		r.stopSignals = make(chan struct{})
		r.background.Add(1)
		go r.pump(opts.Signals.Signals(), r.stopSignals)
	}

	if r.transport != nil {
		r.resyncAtStart(ctx)
	}

	r.logger.Info("recorder opened",
		slog.Bool("resumed", r.resumed),
		slog.Int("events", len(r.log)))
	return r, nil
}

func (r *Recorder) resume(snap store.Snapshot) {
	r.resumed = true
	r.log = snap.Events
	r.phase = snap.CurrentPhase
	if snap.StartTime > 0 {
		r.startTime = time.UnixMilli(snap.StartTime)
	}
	for _, ev := range r.log {
		r.house = ev.CurrentHouseContext
		if ev.Type == events.TypeHouseContextChange {
			var hc events.HouseContextData
			if ev.DecodeData(&hc) == nil {
				r.house = hc.HouseType
			}
		}
		if ev.RelativeTime > r.lastRelative {
			r.lastRelative = ev.RelativeTime
		}
		if ev.Seq > r.seq {
			r.seq = ev.Seq
		}
	}
	if n := int64(len(r.log)); r.seq < n {
		r.seq = n
	}
}

func (r *Recorder) resyncAtStart(ctx context.Context) {
	n, err := r.store.Len(ctx)
	if err != nil {
		r.logger.Warn("offline queue check failed", slog.String("error", err.Error()))
		return
	}
	if n == 0 {
		return
	}
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		r.resync(context.WithoutCancel(ctx), "start")
	}()
}

func (r *Recorder) resync(ctx context.Context, reason string) {
	n, err := r.transport.Resync(ctx)
	if err != nil {
		r.logger.Warn("offline queue resync failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		r.logger.Info("offline queue resynced", slog.String("reason", reason), slog.Int("count", n))
	}
}

// ===== Accessors =====

// SessionID returns the session id.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Phase returns the current phase.
func (r *Recorder) Phase() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// HouseContext returns the entity currently under evaluation.
func (r *Recorder) HouseContext() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.house
}

// Resumed reports whether Open restored a stored session.
func (r *Recorder) Resumed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumed
}

// Events returns a copy of the event log.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneLog(r.log)
}

func cloneLog(log []events.Event) []events.Event {
	out := make([]events.Event, len(log))
	for i, ev := range log {
		out[i] = ev.Clone()
	}
	return out
}

// ===== Recording =====

// Record enriches, appends, and forwards one event.
//
// Description:
//
//	Fills id, session id, phase, house context and timing from the
//	current session state. The event is in the log before Record
//	returns; delivery happens on another goroutine. A payload that fails
//	to marshal is logged and the event is kept without data. After
//	Cleanup, Record does nothing and returns the zero Event.
func (r *Recorder) Record(p Partial) events.Event {
	return r.recordWith(p.Type, func(events.Context, time.Time) any { return p.Data })
}

// payloadFunc builds a payload from the context the event is tagged with.
type payloadFunc func(ec events.Context, at time.Time) any

func (r *Recorder) recordWith(typ events.Type, build payloadFunc) events.Event {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return events.Event{}
	}
	at := r.now()
	ev := r.appendLocked(typ, build(r.contextLocked(), at), at)
	r.mu.Unlock()

	r.forward(ev)
	return ev
}

func (r *Recorder) contextLocked() events.Context {
	return events.Context{
		SessionID:    r.sessionID,
		Phase:        r.phase,
		HouseContext: r.house,
		SessionStart: r.startTime,
		PhaseStart:   r.phaseStart,
	}
}

// appendLocked builds the enriched event and appends it. Caller holds r.mu.
func (r *Recorder) appendLocked(typ events.Type, payload any, at time.Time) events.Event {
	relative := at.Sub(r.startTime).Milliseconds()
	if relative < r.lastRelative {
		relative = r.lastRelative
	}
	r.lastRelative = relative

	phaseTime := at.Sub(r.phaseStart).Milliseconds()
	if phaseTime < 0 {
		phaseTime = 0
	}

	r.seq++
	ev := events.Event{
		ID:                  events.NewEventID(r.sessionID, at),
		SessionID:           r.sessionID,
		Type:                typ,
		Phase:               r.phase,
		CurrentHouseContext: r.house,
		Timestamp:           at.UnixMilli(),
		RelativeTime:        relative,
		PhaseTime:           phaseTime,
		Seq:                 r.seq,
		Data:                r.encode(typ, payload),
	}
	r.log = append(r.log, ev)
	return ev
}

func (r *Recorder) encode(typ events.Type, payload any) json.RawMessage {
	switch p := payload.(type) {
	case nil:
		return nil
	case json.RawMessage:
		if !json.Valid(p) {
			r.logger.Error("invalid raw payload, recording without data", slog.String("event_type", string(typ)))
			return nil
		}
		return append(json.RawMessage(nil), p...)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("payload marshal failed, recording without data",
			slog.String("event_type", string(typ)),
			slog.String("error", err.Error()))
		return nil
	}
	return data
}

// forward counts and ships an appended event. Called without r.mu.
func (r *Recorder) forward(ev events.Event) {
	ctx := context.Background()
	r.metrics.EventsRecorded.Add(ctx, 1,
		metric.WithAttributes(telemetry.AttrEventType.String(string(ev.Type))))
	r.logger.Debug("event recorded",
		slog.String("event_id", ev.ID),
		slog.String("event_type", string(ev.Type)),
		slog.String("phase", ev.Phase))
	if r.transport != nil {
		r.transport.Send(ctx, ev.Clone())
	}
}

// SetPhase records a phase_change and switches to name.
//
// The event carries the outgoing phase's context and timing. The phase
// and its timer change in the same critical section as the append.
func (r *Recorder) SetPhase(name string) events.Event {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return events.Event{}
	}
	at := r.now()
	ev := r.appendLocked(events.TypePhaseChange,
		events.PhaseChangeData{PreviousPhase: r.phase, NewPhase: name}, at)
	r.phase = name
	r.phaseStart = at
	r.mu.Unlock()

	r.forward(ev)
	return ev
}

// SetCurrentHouseContext records a house_context_change and switches the
// entity under evaluation to name.
func (r *Recorder) SetCurrentHouseContext(name string) events.Event {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return events.Event{}
	}
	at := r.now()
	ev := r.appendLocked(events.TypeHouseContextChange, events.HouseContextData{HouseType: name}, at)
	r.house = name
	r.mu.Unlock()

	r.forward(ev)
	return ev
}

// ===== Persistence =====

// Snapshot writes the current session state to the store.
func (r *Recorder) Snapshot(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "recorder.Snapshot")
	defer span.End()

	r.mu.Lock()
	snap := store.Snapshot{
		SessionID:    r.sessionID,
		Events:       cloneLog(r.log),
		CurrentPhase: r.phase,
		StartTime:    r.startTime.UnixMilli(),
	}
	r.mu.Unlock()
	span.SetAttributes(telemetry.AttrSessionID.String(snap.SessionID))

	start := time.Now()
	err := r.store.Snapshot(ctx, snap)
	r.metrics.SnapshotDuration.Record(ctx, time.Since(start).Seconds())

	status := telemetry.StatusSuccess
	if err != nil {
		status = telemetry.StatusFailure
		telemetry.RecordError(span, err)
		r.metrics.CountError(ctx, "recorder")
		r.logger.Error("snapshot failed, continuing in memory",
			slog.Int("events", len(snap.Events)),
			slog.String("error", err.Error()))
	} else {
		telemetry.SetSpanOK(span)
	}
	r.metrics.SnapshotsTotal.Add(ctx, 1, metric.WithAttributes(telemetry.AttrStatus.String(status)))
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", snap.SessionID, err)
	}
	return nil
}

func (r *Recorder) autosnapshot(ctx context.Context) {
	_ = r.Snapshot(ctx)
}

// ===== Cleanup =====

// Cleanup ends the session. Safe to call more than once; later calls
// return the first call's result.
//
// Description:
//
//	Stops autosave and the signal pump, records a session_end event,
//	writes a final snapshot, and waits for in-flight deliveries until
//	ctx is done. Recording afterwards is a no-op.
func (r *Recorder) Cleanup(ctx context.Context) error {
	r.cleanupOnce.Do(func() {
		r.cleanupErr = r.cleanup(ctx)
	})
	return r.cleanupErr
}

func (r *Recorder) cleanup(ctx context.Context) error {
	if r.autosave != nil {
		r.autosave.Stop()
	}
	if r.stopSignals != nil {
		close(r.stopSignals)
	}

	r.mu.Lock()
	at := r.now()
	ev := r.appendLocked(events.TypeSessionEnd,
		events.SessionEndData{TotalEvents: len(r.log), FinalPhase: r.phase}, at)
	r.closed = true
	total := len(r.log)
	r.mu.Unlock()
	r.forward(ev)

	var errs []error
	if err := r.Snapshot(ctx); err != nil {
		errs = append(errs, err)
	}

	waitBackground(ctx, &r.background)
	if r.transport != nil {
		if err := r.transport.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for deliveries: %w", err))
		}
	}

	r.logger.Info("recorder closed", slog.Int("events", total))
	return errors.Join(errs...)
}

func waitBackground(ctx context.Context, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
