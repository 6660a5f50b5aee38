// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events defines the interaction event model recorded during a
// survey session.
//
// An Event is the unit of telemetry: a typed record carrying the session
// context captured at the moment it was created (phase, house context,
// relative and phase-relative time) plus a type-specific payload in Data.
// Payloads are stored as raw JSON so that a log round-trips through
// snapshots, the offline queue, and export artifacts without loss.
//
// Thread Safety:
//
//	Event values are immutable after creation. Copy before handing them to
//	other goroutines; the Data slice must not be modified in place.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event.
type Type string

const (
	// TypePhaseChange is emitted when the instrument moves to a new phase.
	TypePhaseChange Type = "phase_change"

	// TypeHouseContextChange is emitted when the entity under evaluation changes.
	TypeHouseContextChange Type = "house_context_change"

	// TypeEmotionChange is emitted when the participant moves an emotion slider.
	TypeEmotionChange Type = "emotion_change"

	// TypeRatingChange is emitted when a star rating for a dimension changes.
	TypeRatingChange Type = "rating_change"

	// TypeRankingChange is emitted when the participant reorders a ranked set.
	TypeRankingChange Type = "ranking_change"

	// TypeHouseSelection is emitted when the participant picks an entity.
	TypeHouseSelection Type = "house_selection"

	// TypeVideoInteraction is emitted for play, pause, seek and end actions.
	TypeVideoInteraction Type = "video_interaction"

	// TypeVoiceInput is emitted when a voice answer is captured.
	TypeVoiceInput Type = "voice_input"

	// TypeTextInput is emitted when a text answer is submitted.
	TypeTextInput Type = "text_input"

	// TypeQuestionnaireResponse wraps structured form answers.
	TypeQuestionnaireResponse Type = "questionnaire_response"

	// TypeVisibilityChange is emitted when the instrument is hidden or shown.
	TypeVisibilityChange Type = "visibility_change"

	// TypeWindowFocus is emitted when focus is gained or lost.
	TypeWindowFocus Type = "window_focus"

	// TypePageUnload is emitted when the participant navigates away.
	TypePageUnload Type = "page_unload"

	// TypeMouseMove is a rate-limited pointer position sample.
	TypeMouseMove Type = "mouse_move"

	// TypeScroll is a rate-limited scroll position sample.
	TypeScroll Type = "scroll"

	// TypeSessionEnd is synthesized once when the session is cleaned up.
	TypeSessionEnd Type = "session_end"
)

// knownTypes is the closed vocabulary accepted by Valid.
var knownTypes = map[Type]struct{}{
	TypePhaseChange:           {},
	TypeHouseContextChange:    {},
	TypeEmotionChange:         {},
	TypeRatingChange:          {},
	TypeRankingChange:         {},
	TypeHouseSelection:        {},
	TypeVideoInteraction:      {},
	TypeVoiceInput:            {},
	TypeTextInput:             {},
	TypeQuestionnaireResponse: {},
	TypeVisibilityChange:      {},
	TypeWindowFocus:           {},
	TypePageUnload:            {},
	TypeMouseMove:             {},
	TypeScroll:                {},
	TypeSessionEnd:            {},
}

// Valid reports whether t belongs to the closed event vocabulary.
func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// ErrEmptyData is returned by DecodeData when the event has no payload.
var ErrEmptyData = errors.New("event has no data")

// Event is one enriched interaction record.
//
// Description:
//
//	The recorder fills every field except Type and Data, which come from
//	the caller. Phase and CurrentHouseContext are snapshots taken at
//	creation time, never live references to session state.
//
// Thread Safety:
//
//	Event structs should be treated as immutable after creation.
type Event struct {
	// ID is "<sessionId>_<unixMs>_<suffix>", unique within a session.
	ID string `json:"id" validate:"required"`

	// SessionID links the event to its session.
	SessionID string `json:"sessionId" validate:"required"`

	// Type identifies the kind of event.
	Type Type `json:"type" validate:"required"`

	// Phase is the phase that was active when the event fired.
	Phase string `json:"phase"`

	// CurrentHouseContext is the entity under evaluation when the event fired.
	CurrentHouseContext string `json:"currentHouseContext"`

	// Timestamp is the creation instant (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp" validate:"gte=0"`

	// RelativeTime is milliseconds since the session started.
	RelativeTime int64 `json:"relativeTime" validate:"gte=0"`

	// PhaseTime is milliseconds since the current phase started.
	PhaseTime int64 `json:"phaseTime" validate:"gte=0"`

	// Seq is the 1-based position of the event in its session log. It
	// orders events that share a millisecond.
	Seq int64 `json:"seq,omitempty" validate:"gte=0"`

	// Data is the type-specific payload as a JSON object.
	Data json.RawMessage `json:"data,omitempty"`
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	if e.Data != nil {
		e.Data = append(json.RawMessage(nil), e.Data...)
	}
	return e
}

// DecodeData unmarshals the payload into v.
//
// Outputs:
//
//	error - ErrEmptyData if the event has no payload, or a decode error.
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return ErrEmptyData
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", e.Type, err)
	}
	return nil
}

// Equal reports whether two events have the same id and content.
func (e Event) Equal(other Event) bool {
	return e.ID == other.ID &&
		e.SessionID == other.SessionID &&
		e.Type == other.Type &&
		e.Phase == other.Phase &&
		e.CurrentHouseContext == other.CurrentHouseContext &&
		e.Timestamp == other.Timestamp &&
		e.RelativeTime == other.RelativeTime &&
		e.PhaseTime == other.PhaseTime &&
		e.Seq == other.Seq &&
		jsonEqual(e.Data, other.Data)
}

// jsonEqual compares two payloads after compaction.
func jsonEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// Context is an immutable snapshot of the session state an event is
// tagged with.
type Context struct {
	SessionID    string
	Phase        string
	HouseContext string
	SessionStart time.Time
	PhaseStart   time.Time
}

// NewSessionID returns a fresh opaque session identifier.
func NewSessionID() string {
	return "session_" + uuid.NewString()
}

// NewEventID derives an event id from the session id, the creation instant
// and a random 9-character suffix.
func NewEventID(sessionID string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", sessionID, at.UnixMilli(), suffix)
}
