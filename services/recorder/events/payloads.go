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
	"math"
	"strings"
	"unicode/utf8"
)

// DefaultEmotionRange bounds emotion values to [-3, +3].
const DefaultEmotionRange = 3.0

// Sentiment classifies an emotion value by sign.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// VideoAction is the player action carried by a video_interaction event.
type VideoAction string

const (
	VideoPlay  VideoAction = "play"
	VideoPause VideoAction = "pause"
	VideoSeek  VideoAction = "seek"
	VideoEnd   VideoAction = "end"
)

// FocusAction is the direction of a window_focus event.
type FocusAction string

const (
	FocusGained FocusAction = "gained"
	FocusLost   FocusAction = "lost"
)

// =============================================================================
// Payloads
// =============================================================================

// PhaseChangeData is the data for phase_change events.
type PhaseChangeData struct {
	PreviousPhase string `json:"previousPhase"`
	NewPhase      string `json:"newPhase"`
}

// HouseContextData is the data for house_context_change events.
type HouseContextData struct {
	HouseType string `json:"houseType"`
}

// EmotionData is the data for emotion_change events.
type EmotionData struct {
	Value     float64   `json:"value"`
	HouseType string    `json:"houseType,omitempty"`
	Intensity float64   `json:"intensity"`
	Sentiment Sentiment `json:"sentiment"`
}

// RatingData is the data for rating_change events.
type RatingData struct {
	HouseType    string             `json:"houseType,omitempty"`
	Dimension    string             `json:"dimension"`
	Rating       float64            `json:"rating"`
	AllRatings   map[string]float64 `json:"allRatings"`
	Completeness int                `json:"completeness"`
}

// RankingDelta is the signed position change of one item between two
// orderings. Positions are 1-based; Change is newIndex - oldIndex.
type RankingDelta struct {
	Item        string `json:"item"`
	OldPosition int    `json:"oldPosition"`
	NewPosition int    `json:"newPosition"`
	Change      int    `json:"change"`
}

// RankingData is the data for ranking_change events.
type RankingData struct {
	NewOrder      []string       `json:"newOrder"`
	PreviousOrder []string       `json:"previousOrder"`
	Changes       []RankingDelta `json:"changes"`
}

// HouseSelectionData is the data for house_selection events.
type HouseSelectionData struct {
	HouseType     string `json:"houseType"`
	SelectionTime int64  `json:"selectionTime"`
	ViewMode      string `json:"viewMode,omitempty"`
	DecisionTime  int64  `json:"decisionTime"`
}

// VideoData is the data for video_interaction events.
type VideoData struct {
	Action        VideoAction `json:"action"`
	HouseType     string      `json:"houseType,omitempty"`
	Progress      *float64    `json:"progress,omitempty"`
	Duration      *float64    `json:"duration,omitempty"`
	WatchDuration *float64    `json:"watchDuration,omitempty"`
}

// VoiceData is the data for voice_input events. The audio itself is
// never stored, only its size.
type VoiceData struct {
	Question  string `json:"question"`
	Duration  int64  `json:"duration"`
	AudioSize int    `json:"audioSize"`
}

// TextData is the data for text_input events. The text itself is never
// stored, only derived metrics.
type TextData struct {
	Question   string `json:"question"`
	TextLength int    `json:"textLength"`
	WordCount  int    `json:"wordCount"`
}

// QuestionnaireData is the data for questionnaire_response events.
type QuestionnaireData struct {
	QuestionID   string `json:"questionId"`
	QuestionType string `json:"questionType"`
	Response     any    `json:"response"`
	ResponseTime int64  `json:"responseTime"`
}

// VisibilityData is the data for visibility_change events.
type VisibilityData struct {
	Hidden bool `json:"hidden"`
}

// FocusData is the data for window_focus events.
type FocusData struct {
	Action FocusAction `json:"action"`
}

// PointerData is the data for mouse_move events.
type PointerData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ScrollData is the data for scroll events.
type ScrollData struct {
	ScrollY float64 `json:"scrollY"`
}

// SessionEndData is the data for the synthesized session_end event.
type SessionEndData struct {
	TotalEvents int    `json:"totalEvents"`
	FinalPhase  string `json:"finalPhase"`
}

// =============================================================================
// Payload Construction
// =============================================================================

// NewEmotionData bounds value to [-limit, +limit] and derives intensity and
// sentiment from it. A non-positive limit uses DefaultEmotionRange.
func NewEmotionData(houseType string, value, limit float64) EmotionData {
	if limit <= 0 {
		limit = DefaultEmotionRange
	}
	if math.IsNaN(value) {
		value = 0
	}
	value = math.Max(-limit, math.Min(limit, value))

	sentiment := SentimentNeutral
	switch {
	case value > 0:
		sentiment = SentimentPositive
	case value < 0:
		sentiment = SentimentNegative
	}

	return EmotionData{
		Value:     value,
		HouseType: houseType,
		Intensity: math.Abs(value),
		Sentiment: sentiment,
	}
}

// NewRatingData copies the rating map and counts rated dimensions.
func NewRatingData(houseType, dimension string, rating float64, all map[string]float64) RatingData {
	copied := make(map[string]float64, len(all))
	for k, v := range all {
		copied[k] = v
	}
	return RatingData{
		HouseType:    houseType,
		Dimension:    dimension,
		Rating:       rating,
		AllRatings:   copied,
		Completeness: len(copied),
	}
}

// RankingChanges computes the ranking delta list between two orderings.
//
// Description:
//
//	For every item of oldOrder whose index differs in newOrder, emits
//	{item, oldPosition, newPosition, change}. Items with an unchanged index
//	produce no entry, and items missing from newOrder are skipped.
//
// Example:
//
//	RankingChanges([]string{"A","B","C"}, []string{"B","C","A"})
//	// [{A 1 3 +2} {B 2 1 -1} {C 3 2 -1}]
func RankingChanges(oldOrder, newOrder []string) []RankingDelta {
	index := make(map[string]int, len(newOrder))
	for i, item := range newOrder {
		if _, seen := index[item]; !seen {
			index[item] = i
		}
	}

	changes := make([]RankingDelta, 0, len(oldOrder))
	for oldIndex, item := range oldOrder {
		newIndex, ok := index[item]
		if !ok || newIndex == oldIndex {
			continue
		}
		changes = append(changes, RankingDelta{
			Item:        item,
			OldPosition: oldIndex + 1,
			NewPosition: newIndex + 1,
			Change:      newIndex - oldIndex,
		})
	}
	return changes
}

// NewRankingData builds a ranking payload including its delta list.
func NewRankingData(previousOrder, newOrder []string) RankingData {
	return RankingData{
		NewOrder:      append([]string(nil), newOrder...),
		PreviousOrder: append([]string(nil), previousOrder...),
		Changes:       RankingChanges(previousOrder, newOrder),
	}
}

// NewTextData derives length and a naive word count from text.
func NewTextData(question, text string) TextData {
	return TextData{
		Question:   question,
		TextLength: utf8.RuneCountInString(text),
		WordCount:  len(strings.Fields(text)),
	}
}
