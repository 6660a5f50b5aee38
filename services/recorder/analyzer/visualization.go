// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"encoding/json"

	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
)

// Heatmap counts events per phase and type.
type Heatmap map[string]map[events.Type]int

// Heatmap returns a dense phase × type count table. Every configured
// combination is present, zero when no event matches.
func (a *Analyzer) Heatmap() Heatmap {
	heat := make(Heatmap, len(a.phases))
	columns := make(map[events.Type]bool, len(a.types))
	for _, phase := range a.phases {
		row := make(map[events.Type]int, len(a.types))
		for _, t := range a.types {
			row[t] = 0
			columns[t] = true
		}
		heat[phase] = row
	}
	for _, ev := range a.events {
		row, ok := heat[ev.Phase]
		if !ok || !columns[ev.Type] {
			continue
		}
		row[ev.Type]++
	}
	return heat
}

// EntityStats summarizes interactions with one entity.
type EntityStats struct {
	TotalInteractions int     `json:"totalInteractions"`
	AverageEmotion    float64 `json:"averageEmotion"`
	AverageRating     float64 `json:"averageRating"`
}

// entityPayload is the subset of fields entity-aware payloads share.
type entityPayload struct {
	HouseType string   `json:"houseType"`
	Value     *float64 `json:"value"`
	Rating    *float64 `json:"rating"`
}

// SummaryStats returns per-entity interaction totals and mean emotion and
// rating. Entities are matched on the payload houseType; means default to 0.
func (a *Analyzer) SummaryStats() map[string]EntityStats {
	type acc struct {
		total                     int
		emotionSum, ratingSum     float64
		emotionCount, ratingCount int
	}
	accs := make(map[string]*acc, len(a.entities))
	for _, entity := range a.entities {
		accs[entity] = &acc{}
	}

	for _, ev := range a.events {
		var p entityPayload
		if ev.DecodeData(&p) != nil {
			continue
		}
		s, ok := accs[p.HouseType]
		if !ok {
			continue
		}
		s.total++
		switch ev.Type {
		case events.TypeEmotionChange:
			if p.Value != nil {
				s.emotionSum += *p.Value
				s.emotionCount++
			}
		case events.TypeRatingChange:
			if p.Rating != nil {
				s.ratingSum += *p.Rating
				s.ratingCount++
			}
		}
	}

	stats := make(map[string]EntityStats, len(accs))
	for entity, s := range accs {
		st := EntityStats{TotalInteractions: s.total}
		if s.emotionCount > 0 {
			st.AverageEmotion = s.emotionSum / float64(s.emotionCount)
		}
		if s.ratingCount > 0 {
			st.AverageRating = s.ratingSum / float64(s.ratingCount)
		}
		stats[entity] = st
	}
	return stats
}

// TimelinePoint is one event placed on the session time axis.
type TimelinePoint struct {
	Time  int64       `json:"time"`
	Type  events.Type `json:"type"`
	Phase string      `json:"phase"`
	Value float64     `json:"value"`
}

// Timeline maps every event to a point. Value is the payload's non-zero
// value, else its non-zero rating, else 1.
func (a *Analyzer) Timeline() []TimelinePoint {
	points := make([]TimelinePoint, 0, len(a.events))
	for _, ev := range a.events {
		value := 1.0
		var p entityPayload
		if len(ev.Data) > 0 && json.Unmarshal(ev.Data, &p) == nil {
			switch {
			case p.Value != nil && *p.Value != 0:
				value = *p.Value
			case p.Rating != nil && *p.Rating != 0:
				value = *p.Rating
			}
		}
		points = append(points, TimelinePoint{
			Time:  ev.RelativeTime,
			Type:  ev.Type,
			Phase: ev.Phase,
			Value: value,
		})
	}
	return points
}

// Report bundles every derived view of the log.
type Report struct {
	Engagement   Engagement             `json:"engagement"`
	Preferences  Patterns               `json:"preferences"`
	Timeline     []TimelinePoint        `json:"timelineData"`
	Heatmap      Heatmap                `json:"heatmapData"`
	SummaryStats map[string]EntityStats `json:"summaryStats"`
}

// Report computes every view.
func (a *Analyzer) Report() Report {
	return Report{
		Engagement:   a.Engagement(),
		Preferences:  a.PreferencePatterns(),
		Timeline:     a.Timeline(),
		Heatmap:      a.Heatmap(),
		SummaryStats: a.SummaryStats(),
	}
}
