// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recorder

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
	"github.com/AleutianAI/SurveyTrace/services/recorder/signals"
	"github.com/AleutianAI/SurveyTrace/services/recorder/store"
	"github.com/AleutianAI/SurveyTrace/services/storage/badger"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []events.Event
	online  []bool
	resyncs int
}

func (f *fakeTransport) Send(_ context.Context, ev events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ev)
}

func (f *fakeTransport) Resync(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs++
	return 0, nil
}

func (f *fakeTransport) SetOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = append(f.online, online)
}

func (f *fakeTransport) Wait(context.Context) error { return nil }

func (f *fakeTransport) counts() (sent, resyncs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), f.resyncs
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(badger.InMemoryConfig(), store.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type harness struct {
	rec       *Recorder
	store     *store.Store
	transport *fakeTransport
	clock     *fakeClock
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store:     newTestStore(t),
		transport: &fakeTransport{},
		clock:     newFakeClock(),
	}
	opts := Options{
		Store:            h.store,
		Transport:        h.transport,
		SnapshotInterval: -1,
		Clock:            h.clock.Now,
		Logger:           discardLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	rec, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rec.Cleanup(context.Background()) })
	h.rec = rec
	return h
}

func decode[T any](t *testing.T, ev events.Event) T {
	t.Helper()
	var v T
	require.NoError(t, ev.DecodeData(&v))
	return v
}

// =============================================================================
// Open
// =============================================================================

func TestOpen_RequiresStore(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestOpen_NewSession(t *testing.T) {
	h := newHarness(t)
	assert.True(t, strings.HasPrefix(h.rec.SessionID(), "session_"))
	assert.False(t, h.rec.Resumed())
	assert.Empty(t, h.rec.Events())
	assert.Equal(t, "", h.rec.Phase())
}

// =============================================================================
// Recording
// =============================================================================

func TestRecord_Enrichment(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(2 * time.Second)
	h.rec.SetPhase("exhibition")
	h.rec.SetCurrentHouseContext("large_house")
	h.clock.Advance(1500 * time.Millisecond)

	ev := h.rec.Record(Partial{Type: events.TypeVideoInteraction, Data: events.VideoData{Action: events.VideoPlay}})

	assert.True(t, strings.HasPrefix(ev.ID, h.rec.SessionID()+"_"))
	assert.Equal(t, h.rec.SessionID(), ev.SessionID)
	assert.Equal(t, "exhibition", ev.Phase)
	assert.Equal(t, "large_house", ev.CurrentHouseContext)
	assert.Equal(t, int64(3500), ev.RelativeTime)
	assert.Equal(t, int64(1500), ev.PhaseTime)
	assert.Equal(t, h.clock.Now().UnixMilli(), ev.Timestamp)

	log := h.rec.Events()
	require.Len(t, log, 3)
	assert.True(t, ev.Equal(log[2]))
}

func TestRecord_ForwardsToTransport(t *testing.T) {
	h := newHarness(t)
	h.rec.Record(Partial{Type: events.TypeScroll, Data: events.ScrollData{ScrollY: 10}})
	h.rec.Record(Partial{Type: events.TypeScroll, Data: events.ScrollData{ScrollY: 20}})

	sent, _ := h.transport.counts()
	assert.Equal(t, 2, sent)
}

func TestRecord_UniqueIDs(t *testing.T) {
	h := newHarness(t)
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		ev := h.rec.Record(Partial{Type: events.TypeMouseMove})
		_, dup := seen[ev.ID]
		require.False(t, dup, "duplicate id %s", ev.ID)
		seen[ev.ID] = struct{}{}
	}
}

func TestRecord_SeqFollowsAppendOrder(t *testing.T) {
	h := newHarness(t)
	h.rec.SetPhase("survey")
	h.rec.SetPhase("exhibition")
	h.rec.Record(Partial{Type: events.TypeScroll})

	log := h.rec.Events()
	require.Len(t, log, 3)
	for i, ev := range log {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, log[0].RelativeTime, ev.RelativeTime, "same instant")
	}
}

func TestRecord_ClockRegressionIsClamped(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(5 * time.Second)
	first := h.rec.Record(Partial{Type: events.TypeScroll})

	h.clock.Advance(-3 * time.Second)
	second := h.rec.Record(Partial{Type: events.TypeScroll})

	assert.Equal(t, int64(5000), first.RelativeTime)
	assert.Equal(t, int64(5000), second.RelativeTime)
}

func TestRecord_UnmarshalablePayload(t *testing.T) {
	h := newHarness(t)
	ev := h.rec.Record(Partial{Type: events.TypeQuestionnaireResponse, Data: map[string]any{"f": func() {}}})

	assert.NotEmpty(t, ev.ID)
	assert.Nil(t, ev.Data)
	assert.Len(t, h.rec.Events(), 1)
}

func TestRecord_RawPayload(t *testing.T) {
	h := newHarness(t)
	ev := h.rec.Record(Partial{Type: events.TypeScroll, Data: json.RawMessage(`{"scrollY":3}`)})
	assert.Equal(t, 3.0, decode[events.ScrollData](t, ev).ScrollY)

	bad := h.rec.Record(Partial{Type: events.TypeScroll, Data: json.RawMessage(`{`)})
	assert.Nil(t, bad.Data)
}

func TestEvents_ReturnsCopy(t *testing.T) {
	h := newHarness(t)
	h.rec.RecordEmotion("large_house", 1)

	log := h.rec.Events()
	log[0].Data[0] = 'X'
	log[0].Phase = "tampered"

	fresh := h.rec.Events()
	assert.Equal(t, "", fresh[0].Phase)
	assert.Equal(t, byte('{'), fresh[0].Data[0])
}

func TestSetPhase(t *testing.T) {
	h := newHarness(t)
	h.rec.SetPhase("welcome")
	h.clock.Advance(120 * time.Second)

	ev := h.rec.SetPhase("survey")
	assert.Equal(t, "welcome", ev.Phase, "tagged with the outgoing phase")
	assert.Equal(t, int64(120000), ev.PhaseTime)
	data := decode[events.PhaseChangeData](t, ev)
	assert.Equal(t, events.PhaseChangeData{PreviousPhase: "welcome", NewPhase: "survey"}, data)

	assert.Equal(t, "survey", h.rec.Phase())
	next := h.rec.Record(Partial{Type: events.TypeScroll})
	assert.Equal(t, int64(0), next.PhaseTime, "phase timer resets")
}

func TestSetCurrentHouseContext(t *testing.T) {
	h := newHarness(t)
	h.rec.SetCurrentHouseContext("small_house")
	ev := h.rec.SetCurrentHouseContext("large_house")

	assert.Equal(t, "small_house", ev.CurrentHouseContext)
	assert.Equal(t, "large_house", decode[events.HouseContextData](t, ev).HouseType)
	assert.Equal(t, "large_house", h.rec.HouseContext())
}

// =============================================================================
// Handlers
// =============================================================================

func TestRecordEmotion(t *testing.T) {
	h := newHarness(t)
	h.rec.SetCurrentHouseContext("medium_house")

	ev := h.rec.RecordEmotion("", 7)
	data := decode[events.EmotionData](t, ev)
	assert.Equal(t, 3.0, data.Value)
	assert.Equal(t, 3.0, data.Intensity)
	assert.Equal(t, events.SentimentPositive, data.Sentiment)
	assert.Equal(t, "medium_house", data.HouseType)
}

func TestRecordEmotion_CustomRange(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.EmotionRange = 5 })
	data := decode[events.EmotionData](t, h.rec.RecordEmotion("x", -4))
	assert.Equal(t, -4.0, data.Value)
	assert.Equal(t, events.SentimentNegative, data.Sentiment)
}

func TestRecordRating(t *testing.T) {
	h := newHarness(t)
	all := map[string]float64{"price": 4.5, "space": 3}
	data := decode[events.RatingData](t, h.rec.RecordRating("large_house", "price", 4.5, all))
	assert.Equal(t, 2, data.Completeness)
	assert.Equal(t, all, data.AllRatings)
	assert.Equal(t, data.Rating, data.AllRatings["price"], "half stars survive in both fields")
}

func TestRecordRanking(t *testing.T) {
	h := newHarness(t)
	data := decode[events.RankingData](t, h.rec.RecordRanking([]string{"A", "B", "C"}, []string{"B", "C", "A"}))
	assert.Equal(t, []events.RankingDelta{
		{Item: "A", OldPosition: 1, NewPosition: 3, Change: 2},
		{Item: "B", OldPosition: 2, NewPosition: 1, Change: -1},
		{Item: "C", OldPosition: 3, NewPosition: 2, Change: -1},
	}, data.Changes)
}

func TestRecordHouseSelection(t *testing.T) {
	h := newHarness(t)
	h.rec.SetPhase("comparison")
	h.clock.Advance(42 * time.Second)

	data := decode[events.HouseSelectionData](t, h.rec.RecordHouseSelection("small_house", "grid", time.Time{}))
	assert.Equal(t, int64(42000), data.DecisionTime)
	assert.Equal(t, h.clock.Now().UnixMilli(), data.SelectionTime)
	assert.Equal(t, "grid", data.ViewMode)

	earlier := h.clock.Now().Add(-2 * time.Second)
	data = decode[events.HouseSelectionData](t, h.rec.RecordHouseSelection("small_house", "", earlier))
	assert.Equal(t, int64(40000), data.DecisionTime)
}

func TestRecordVideo(t *testing.T) {
	h := newHarness(t)
	progress := 0.25
	ev := h.rec.RecordVideo("large_house", events.VideoSeek, VideoState{Progress: &progress})

	assert.JSONEq(t, `{"action":"seek","houseType":"large_house","progress":0.25}`, string(ev.Data))
}

func TestRecordVoiceAndText_NoRawContent(t *testing.T) {
	h := newHarness(t)
	audio := []byte("secret-audio-bytes")
	voice := h.rec.RecordVoice("q1", 3*time.Second, audio)
	text := h.rec.RecordText("q2", "my private answer")

	assert.JSONEq(t, `{"question":"q1","duration":3000,"audioSize":18}`, string(voice.Data))
	assert.NotContains(t, string(text.Data), "private")
	assert.Equal(t, 3, decode[events.TextData](t, text).WordCount)
}

func TestRecordQuestionnaire(t *testing.T) {
	h := newHarness(t)
	ev := h.rec.RecordQuestionnaire("age", "select", "25-34", 1500*time.Millisecond)
	data := decode[events.QuestionnaireData](t, ev)
	assert.Equal(t, "25-34", data.Response)
	assert.Equal(t, int64(1500), data.ResponseTime)
}

// =============================================================================
// Persistence
// =============================================================================

func TestSnapshotAndResume(t *testing.T) {
	st := newTestStore(t)
	clock := newFakeClock()
	ctx := context.Background()

	first, err := Open(ctx, Options{Store: st, SnapshotInterval: -1, Clock: clock.Now, Logger: discardLogger()})
	require.NoError(t, err)
	first.SetPhase("exhibition")
	first.SetCurrentHouseContext("large_house")
	clock.Advance(10 * time.Second)
	first.RecordEmotion("", 2)
	require.NoError(t, first.Snapshot(ctx))
	before := first.Events()

	clock.Advance(time.Minute)
	second, err := Open(ctx, Options{SessionID: first.SessionID(), Store: st, SnapshotInterval: -1, Clock: clock.Now, Logger: discardLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Cleanup(ctx) })

	assert.True(t, second.Resumed())
	assert.Equal(t, "exhibition", second.Phase())
	assert.Equal(t, "large_house", second.HouseContext())
	after := second.Events()
	require.Len(t, after, len(before))
	for i := range before {
		assert.True(t, before[i].Equal(after[i]), "event %d changed on restore", i)
	}

	ev := second.Record(Partial{Type: events.TypeScroll})
	assert.Equal(t, int64(70000), ev.RelativeTime, "relative to the restored start time")
	assert.Equal(t, before[len(before)-1].Seq+1, ev.Seq, "sequence continues after resume")
}

func TestResume_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec, err := Open(ctx, Options{Store: st, SnapshotInterval: -1, Logger: discardLogger()})
	require.NoError(t, err)
	rec.RecordText("q", "hello there")
	require.NoError(t, rec.Snapshot(ctx))

	snapA, ok := st.Restore(ctx, rec.SessionID())
	require.True(t, ok)
	snapB, ok := st.Restore(ctx, rec.SessionID())
	require.True(t, ok)
	assert.Equal(t, snapA, snapB)
}

func TestOpen_UnknownSessionStartsFresh(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.SessionID = "session_missing" })
	assert.Equal(t, "session_missing", h.rec.SessionID())
	assert.False(t, h.rec.Resumed())
}

func TestAutosave(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.SnapshotInterval = 10 * time.Millisecond })
	h.rec.RecordEmotion("large_house", 1)

	require.Eventually(t, func() bool {
		snap, ok := h.store.Restore(context.Background(), h.rec.SessionID())
		return ok && len(snap.Events) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// =============================================================================
// Cleanup
// =============================================================================

func TestCleanup(t *testing.T) {
	h := newHarness(t)
	h.rec.SetPhase("interview")
	h.rec.RecordText("q", "done")
	ctx := context.Background()

	require.NoError(t, h.rec.Cleanup(ctx))
	require.NoError(t, h.rec.Cleanup(ctx))

	log := h.rec.Events()
	require.Len(t, log, 3)
	end := log[2]
	assert.Equal(t, events.TypeSessionEnd, end.Type)
	assert.Equal(t, events.SessionEndData{TotalEvents: 2, FinalPhase: "interview"}, decode[events.SessionEndData](t, end))

	snap, ok := h.store.Restore(ctx, h.rec.SessionID())
	require.True(t, ok)
	require.Len(t, snap.Events, 3)
	assert.Equal(t, events.TypeSessionEnd, snap.Events[2].Type)

	assert.Empty(t, h.rec.Record(Partial{Type: events.TypeScroll}).ID)
	assert.Empty(t, h.rec.SetPhase("again").ID)
	assert.Len(t, h.rec.Events(), 3)
}

// =============================================================================
// Signals
// =============================================================================

func TestHandleSignal_PointerSampling(t *testing.T) {
	h := newHarness(t)
	base := h.clock.Now()

	for i := 0; i < 50; i++ {
		h.rec.HandleSignal(signals.Signal{
			Kind: signals.KindPointer,
			At:   base.Add(time.Duration(i) * 8 * time.Millisecond),
			X:    float64(i),
			Y:    float64(i),
		})
	}
	moves := h.rec.EventsOfType(events.TypeMouseMove)
	require.Len(t, moves, 1)
	assert.Equal(t, events.PointerData{X: 0, Y: 0}, decode[events.PointerData](t, moves[0]))

	h.rec.HandleSignal(signals.Signal{Kind: signals.KindPointer, At: base.Add(510 * time.Millisecond)})
	assert.Len(t, h.rec.EventsOfType(events.TypeMouseMove), 2)
}

func TestHandleSignal_ScrollSampling(t *testing.T) {
	h := newHarness(t)
	base := h.clock.Now()
	for i := 0; i < 10; i++ {
		h.rec.HandleSignal(signals.Signal{Kind: signals.KindScroll, At: base.Add(time.Duration(i) * 20 * time.Millisecond)})
	}
	assert.Len(t, h.rec.EventsOfType(events.TypeScroll), 1)
}

func TestHandleSignal_VisibilityAndFocus(t *testing.T) {
	h := newHarness(t)
	h.rec.HandleSignal(signals.Signal{Kind: signals.KindVisibility, Hidden: true})
	h.rec.HandleSignal(signals.Signal{Kind: signals.KindFocus, Focused: false})
	h.rec.HandleSignal(signals.Signal{Kind: signals.KindFocus, Focused: true})

	log := h.rec.Events()
	require.Len(t, log, 3)
	assert.True(t, decode[events.VisibilityData](t, log[0]).Hidden)
	assert.Equal(t, events.FocusLost, decode[events.FocusData](t, log[1]).Action)
	assert.Equal(t, events.FocusGained, decode[events.FocusData](t, log[2]).Action)
}

func TestHandleSignal_UnloadSnapshots(t *testing.T) {
	h := newHarness(t)
	h.rec.RecordEmotion("large_house", 1)
	h.rec.HandleSignal(signals.Signal{Kind: signals.KindUnload})

	snap, ok := h.store.Restore(context.Background(), h.rec.SessionID())
	require.True(t, ok)
	require.Len(t, snap.Events, 2)
	assert.Equal(t, events.TypePageUnload, snap.Events[1].Type)
}

func TestSignalFeed_ConnectivityResyncs(t *testing.T) {
	feed := signals.NewFeed(4)
	h := newHarness(t, func(o *Options) { o.Signals = feed })
	ctx := context.Background()

	require.NoError(t, feed.Connectivity(ctx, false))
	require.NoError(t, feed.Connectivity(ctx, true))

	require.Eventually(t, func() bool {
		_, resyncs := h.transport.counts()
		return resyncs == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.transport.mu.Lock()
	assert.Equal(t, []bool{false, true}, h.transport.online)
	h.transport.mu.Unlock()
	assert.Empty(t, h.rec.Events(), "connectivity records no event")
}

func TestSignalFeed_PumpStopsAtCleanup(t *testing.T) {
	feed := signals.NewFeed(0)
	h := newHarness(t, func(o *Options) { o.Signals = feed })
	ctx := context.Background()

	require.NoError(t, feed.Visibility(ctx, true))
	require.NoError(t, h.rec.Cleanup(ctx))

	emitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, feed.Visibility(emitCtx, false), context.DeadlineExceeded)
}

func TestOpen_ResyncsNonEmptyQueue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Append(ctx, events.Event{ID: "queued", SessionID: "old", Type: events.TypeScroll}))

	tr := &fakeTransport{}
	rec, err := Open(ctx, Options{Store: st, Transport: tr, SnapshotInterval: -1, Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, rec.Cleanup(ctx))

	_, resyncs := tr.counts()
	assert.Equal(t, 1, resyncs)
}

func TestOpen_EmptyQueueSkipsResync(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.rec.Cleanup(context.Background()))
	_, resyncs := h.transport.counts()
	assert.Zero(t, resyncs)
}

// =============================================================================
// Stats and Export
// =============================================================================

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.rec.SetPhase("welcome")
	h.rec.RecordEmotion("large_house", 1)
	h.rec.RecordEmotion("large_house", 2)
	h.clock.Advance(2 * time.Minute)

	stats := h.rec.Stats()
	assert.Equal(t, 3, stats.TotalEvents)
	assert.Equal(t, int64(120000), stats.TotalTime)
	assert.Equal(t, "welcome", stats.CurrentPhase)
	assert.Equal(t, 2, stats.EventsByType[string(events.TypeEmotionChange)])
	assert.Equal(t, 1, stats.EventsByPhase[""])
	assert.Equal(t, 2, stats.EventsByPhase["welcome"])
	assert.InDelta(t, 1.5, stats.AverageEventsPerMinute, 1e-9)
}

func TestStats_NoElapsedTime(t *testing.T) {
	h := newHarness(t)
	h.rec.RecordEmotion("x", 1)
	assert.Zero(t, h.rec.Stats().AverageEventsPerMinute)
}

func TestExportTo(t *testing.T) {
	h := newHarness(t)
	h.rec.RecordEmotion("large_house", 1)
	h.clock.Advance(30 * time.Second)

	artifact := h.rec.Export()
	assert.Equal(t, int64(30000), artifact.SessionInfo.TotalDuration)
	assert.Len(t, artifact.Events, 1)
	assert.Equal(t, 1, artifact.Stats.TotalEvents)

	path, err := h.rec.ExportTo(t.TempDir())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "survey_data_"+h.rec.SessionID()+".json"))
}
