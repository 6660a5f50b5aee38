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
	"time"

	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
)

// Specialized handlers. Each builds its payload from the context the event
// is tagged with, so an empty house argument resolves to the entity under
// evaluation at append time.

func houseOr(house string, ec events.Context) string {
	if house != "" {
		return house
	}
	return ec.HouseContext
}

// RecordEmotion records an emotion slider value, clamped to the configured
// range.
func (r *Recorder) RecordEmotion(house string, value float64) events.Event {
	return r.recordWith(events.TypeEmotionChange, func(ec events.Context, _ time.Time) any {
		return events.NewEmotionData(houseOr(house, ec), value, r.emotionRange)
	})
}

// RecordRating records a star rating for one dimension along with every
// dimension rated so far.
func (r *Recorder) RecordRating(house, dimension string, rating float64, all map[string]float64) events.Event {
	return r.recordWith(events.TypeRatingChange, func(ec events.Context, _ time.Time) any {
		return events.NewRatingData(houseOr(house, ec), dimension, rating, all)
	})
}

// RecordRanking records a reorder from previous to next.
func (r *Recorder) RecordRanking(previous, next []string) events.Event {
	return r.recordWith(events.TypeRankingChange, func(events.Context, time.Time) any {
		return events.NewRankingData(previous, next)
	})
}

// RecordHouseSelection records the participant's pick. decisionTime is
// measured from the start of the current phase to selectedAt; a zero
// selectedAt means now.
func (r *Recorder) RecordHouseSelection(house, viewMode string, selectedAt time.Time) events.Event {
	return r.recordWith(events.TypeHouseSelection, func(ec events.Context, at time.Time) any {
		if selectedAt.IsZero() {
			selectedAt = at
		}
		decision := selectedAt.Sub(ec.PhaseStart).Milliseconds()
		if decision < 0 {
			decision = 0
		}
		return events.HouseSelectionData{
			HouseType:     house,
			SelectionTime: selectedAt.UnixMilli(),
			ViewMode:      viewMode,
			DecisionTime:  decision,
		}
	})
}

// VideoState carries the optional player measurements of a video event.
type VideoState struct {
	Progress      *float64
	Duration      *float64
	WatchDuration *float64
}

// RecordVideo records a player action.
func (r *Recorder) RecordVideo(house string, action events.VideoAction, state VideoState) events.Event {
	return r.recordWith(events.TypeVideoInteraction, func(ec events.Context, _ time.Time) any {
		return events.VideoData{
			Action:        action,
			HouseType:     houseOr(house, ec),
			Progress:      state.Progress,
			Duration:      state.Duration,
			WatchDuration: state.WatchDuration,
		}
	})
}

// RecordVoice records a voice answer. Only the audio length is kept.
func (r *Recorder) RecordVoice(question string, duration time.Duration, audio []byte) events.Event {
	size := len(audio)
	return r.recordWith(events.TypeVoiceInput, func(events.Context, time.Time) any {
		return events.VoiceData{
			Question:  question,
			Duration:  duration.Milliseconds(),
			AudioSize: size,
		}
	})
}

// RecordText records text answer metrics. The text itself is not kept.
func (r *Recorder) RecordText(question, text string) events.Event {
	data := events.NewTextData(question, text)
	return r.recordWith(events.TypeTextInput, func(events.Context, time.Time) any {
		return data
	})
}

// RecordQuestionnaire records one structured form answer.
func (r *Recorder) RecordQuestionnaire(questionID, questionType string, response any, responseTime time.Duration) events.Event {
	return r.recordWith(events.TypeQuestionnaireResponse, func(events.Context, time.Time) any {
		return events.QuestionnaireData{
			QuestionID:   questionID,
			QuestionType: questionType,
			Response:     response,
			ResponseTime: responseTime.Milliseconds(),
		}
	})
}
