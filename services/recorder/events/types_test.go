// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankingChanges(t *testing.T) {
	t.Run("rotation moves every item", func(t *testing.T) {
		changes := RankingChanges([]string{"A", "B", "C"}, []string{"B", "C", "A"})

		require.Len(t, changes, 3)
		assert.Equal(t, RankingDelta{Item: "A", OldPosition: 1, NewPosition: 3, Change: 2}, changes[0])
		assert.Equal(t, RankingDelta{Item: "B", OldPosition: 2, NewPosition: 1, Change: -1}, changes[1])
		assert.Equal(t, RankingDelta{Item: "C", OldPosition: 3, NewPosition: 2, Change: -1}, changes[2])
	})

	t.Run("unchanged items produce no delta", func(t *testing.T) {
		changes := RankingChanges([]string{"A", "B", "C"}, []string{"C", "B", "A"})

		require.Len(t, changes, 2)
		assert.Equal(t, "A", changes[0].Item)
		assert.Equal(t, "C", changes[1].Item)
	})

	t.Run("identical orders", func(t *testing.T) {
		assert.Empty(t, RankingChanges([]string{"A", "B"}, []string{"A", "B"}))
	})

	t.Run("items missing from new order are skipped", func(t *testing.T) {
		changes := RankingChanges([]string{"A", "B"}, []string{"B"})

		require.Len(t, changes, 1)
		assert.Equal(t, "B", changes[0].Item)
		assert.Equal(t, -1, changes[0].Change)
	})
}

func TestNewEmotionData(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		wantValue float64
		sentiment Sentiment
	}{
		{"positive", 2, 2, SentimentPositive},
		{"negative", -1.5, -1.5, SentimentNegative},
		{"neutral", 0, 0, SentimentNeutral},
		{"clamped high", 9, 3, SentimentPositive},
		{"clamped low", -7, -3, SentimentNegative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := NewEmotionData("large_house", tt.value, 0)
			assert.Equal(t, tt.wantValue, data.Value)
			assert.Equal(t, tt.sentiment, data.Sentiment)
			assert.GreaterOrEqual(t, data.Intensity, 0.0)
			assert.Equal(t, "large_house", data.HouseType)
		})
	}
}

func TestNewRatingData_CopiesMap(t *testing.T) {
	all := map[string]float64{"comfort": 4, "price": 2.5}
	data := NewRatingData("small_house", "price", 2, all)

	all["style"] = 5

	assert.Equal(t, 2, data.Completeness)
	assert.Len(t, data.AllRatings, 2)
	assert.Equal(t, 2.5, data.AllRatings["price"])
}

func TestNewTextData(t *testing.T) {
	data := NewTextData("q1", "  I like  the garden ")
	assert.Equal(t, 4, data.WordCount)
	assert.Equal(t, 21, data.TextLength)

	empty := NewTextData("q1", "")
	assert.Equal(t, 0, empty.WordCount)
	assert.Equal(t, 0, empty.TextLength)
}

func TestNewEventID(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	id := NewEventID("session_x", at)

	assert.True(t, strings.HasPrefix(id, "session_x_1700000000123_"))
	assert.Len(t, strings.TrimPrefix(id, "session_x_1700000000123_"), 9)
	assert.NotEqual(t, id, NewEventID("session_x", at))
}

func TestEvent_DecodeData(t *testing.T) {
	payload, err := json.Marshal(PhaseChangeData{PreviousPhase: "welcome", NewPhase: "survey"})
	require.NoError(t, err)
	ev := Event{ID: "e1", Type: TypePhaseChange, Data: payload}

	var data PhaseChangeData
	require.NoError(t, ev.DecodeData(&data))
	assert.Equal(t, "survey", data.NewPhase)

	empty := Event{ID: "e2", Type: TypeScroll}
	assert.ErrorIs(t, empty.DecodeData(&data), ErrEmptyData)
}

func TestEvent_EqualAndClone(t *testing.T) {
	ev := Event{ID: "e1", SessionID: "s", Type: TypeScroll, Data: json.RawMessage(`{"scrollY": 10}`)}
	clone := ev.Clone()

	assert.True(t, ev.Equal(clone))
	clone.Data[0] = ' '
	assert.Equal(t, byte('{'), ev.Data[0], "clone must not share payload bytes")

	compacted := ev
	compacted.Data = json.RawMessage(`{"scrollY":10}`)
	assert.True(t, ev.Equal(compacted))
}

func TestType_Valid(t *testing.T) {
	assert.True(t, TypeEmotionChange.Valid())
	assert.True(t, TypeSessionEnd.Valid())
	assert.False(t, Type("keyboard_mash").Valid())
}
