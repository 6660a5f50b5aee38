// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer derives engagement and preference metrics from an event
// log.
//
// An Analyzer works on its own copy of the log and never mutates it, so it
// can run against a finished session export or a live recorder's Events()
// snapshot. Payloads that are missing or malformed contribute neutral values
// (zero, or nothing) instead of failing the computation.
//
// Thread Safety:
//
//	Analyzer is immutable after New and safe for concurrent use.
package analyzer

import (
	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
)

// UnknownEntity groups emotion samples that name no entity.
const UnknownEntity = "unknown"

// ScoreDivisor normalizes the weighted interaction sum into [0, 1].
const ScoreDivisor = 100.0

// DefaultWeights is the per-type engagement weight table.
var DefaultWeights = map[events.Type]float64{
	events.TypeEmotionChange:  1,
	events.TypeRatingChange:   2,
	events.TypeRankingChange:  3,
	events.TypeHouseSelection: 4,
	events.TypeVoiceInput:     5,
	events.TypeTextInput:      4,
}

// DefaultHeatmapPhases are the heatmap rows.
var DefaultHeatmapPhases = []string{"welcome", "preview", "exhibition", "comparison", "interview"}

// DefaultHeatmapTypes are the heatmap columns.
var DefaultHeatmapTypes = []events.Type{
	events.TypeEmotionChange,
	events.TypeRatingChange,
	events.TypeHouseSelection,
	events.TypeRankingChange,
}

// DefaultEntities are the entities SummaryStats reports on.
var DefaultEntities = []string{"large_house", "medium_house", "small_house"}

// Analyzer computes derived statistics over one event log.
type Analyzer struct {
	events   []events.Event
	weights  map[events.Type]float64
	phases   []string
	types    []events.Type
	entities []string
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithHeatmapPhases overrides the heatmap phase vocabulary.
func WithHeatmapPhases(phases ...string) Option {
	return func(a *Analyzer) {
		if len(phases) > 0 {
			a.phases = append([]string(nil), phases...)
		}
	}
}

// WithHeatmapTypes overrides the heatmap event type vocabulary.
func WithHeatmapTypes(types ...events.Type) Option {
	return func(a *Analyzer) {
		if len(types) > 0 {
			a.types = append([]events.Type(nil), types...)
		}
	}
}

// WithEntities overrides the entities tracked by SummaryStats.
func WithEntities(entities ...string) Option {
	return func(a *Analyzer) {
		if len(entities) > 0 {
			a.entities = append([]string(nil), entities...)
		}
	}
}

// WithWeights overrides the engagement weight table.
func WithWeights(weights map[events.Type]float64) Option {
	return func(a *Analyzer) {
		if len(weights) == 0 {
			return
		}
		a.weights = make(map[events.Type]float64, len(weights))
		for k, v := range weights {
			a.weights[k] = v
		}
	}
}

// New builds an analyzer over a deep copy of log.
func New(log []events.Event, opts ...Option) *Analyzer {
	copied := make([]events.Event, len(log))
	for i, ev := range log {
		copied[i] = ev.Clone()
	}
	a := &Analyzer{
		events:   copied,
		weights:  DefaultWeights,
		phases:   DefaultHeatmapPhases,
		types:    DefaultHeatmapTypes,
		entities: DefaultEntities,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Len returns the number of events analyzed.
func (a *Analyzer) Len() int {
	return len(a.events)
}

// ===== Engagement =====

// Engagement summarizes interaction volume and phase timing.
type Engagement struct {
	TotalInteractions int              `json:"totalInteractions"`
	TimeSpentOnPhases map[string]int64 `json:"timeSpentOnPhases"`
	EngagementScore   float64          `json:"engagementScore"`
}

// isInteraction reports whether t counts toward engagement.
func (a *Analyzer) isInteraction(t events.Type) bool {
	_, ok := a.weights[t]
	return ok
}

// EngagementScore sums the weight of every interaction event, divides by
// ScoreDivisor and clamps to [0, 1]. A log without interactions scores 0.
func (a *Analyzer) EngagementScore() float64 {
	var sum float64
	for _, ev := range a.events {
		if w, ok := a.weights[ev.Type]; ok && w > 0 {
			sum += w
		}
	}
	score := sum / ScoreDivisor
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// Engagement returns interaction count, phase durations and score.
func (a *Analyzer) Engagement() Engagement {
	total := 0
	for _, ev := range a.events {
		if a.isInteraction(ev.Type) {
			total++
		}
	}
	return Engagement{
		TotalInteractions: total,
		TimeSpentOnPhases: a.TimeSpentPerPhase(),
		EngagementScore:   a.EngagementScore(),
	}
}

// TimeSpentPerPhase attributes elapsed relative time between consecutive
// phase_change events to the earlier phase.
//
// Description:
//
//	Scans the log in order. Each phase_change closes the open phase (if
//	any) with the difference of relativeTime values, accumulating when a
//	phase is revisited, and opens its newPhase. A session_end event closes
//	the open phase. Without one, the last phase is absent from the result.
//
// Example:
//
//	// phase_change →welcome @0, →survey @120000, →exhibition @300000
//	// {"welcome": 120000, "survey": 180000}
func (a *Analyzer) TimeSpentPerPhase() map[string]int64 {
	spent := make(map[string]int64)
	open := ""
	var openedAt int64

	closePhase := func(at int64) {
		if open == "" {
			return
		}
		d := at - openedAt
		if d < 0 {
			d = 0
		}
		spent[open] += d
	}

	for _, ev := range a.events {
		switch ev.Type {
		case events.TypePhaseChange:
			var data events.PhaseChangeData
			if err := ev.DecodeData(&data); err != nil {
				continue
			}
			closePhase(ev.RelativeTime)
			open = data.NewPhase
			openedAt = ev.RelativeTime
		case events.TypeSessionEnd:
			closePhase(ev.RelativeTime)
			open = ""
		}
	}
	return spent
}

// ===== Preferences =====

// Stability is the spread of emotion values toward one entity.
type Stability struct {
	Samples  int     `json:"samples"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// entityOf returns the payload houseType, then the event's context, then
// UnknownEntity.
func entityOf(ev events.Event, payloadEntity string) string {
	switch {
	case payloadEntity != "":
		return payloadEntity
	case ev.CurrentHouseContext != "":
		return ev.CurrentHouseContext
	default:
		return UnknownEntity
	}
}

// emotionsByEntity groups emotion values per entity in log order.
func (a *Analyzer) emotionsByEntity() map[string][]float64 {
	grouped := make(map[string][]float64)
	for _, ev := range a.events {
		if ev.Type != events.TypeEmotionChange {
			continue
		}
		var data events.EmotionData
		if err := ev.DecodeData(&data); err != nil {
			continue
		}
		entity := entityOf(ev, data.HouseType)
		grouped[entity] = append(grouped[entity], data.Value)
	}
	return grouped
}

// PreferenceStability returns mean and population variance of emotion
// values for every entity with at least two samples.
func (a *Analyzer) PreferenceStability() map[string]Stability {
	result := make(map[string]Stability)
	for entity, values := range a.emotionsByEntity() {
		if len(values) < 2 {
			continue
		}
		mean, variance := meanVariance(values)
		result[entity] = Stability{Samples: len(values), Mean: mean, Variance: variance}
	}
	return result
}

// Patterns collects raw preference signals per entity.
type Patterns struct {
	EmotionalResponses  map[string][]float64          `json:"emotionalResponses"`
	DimensionRatings    map[string]map[string]float64 `json:"dimensionRatings"`
	PreferenceStability map[string]Stability          `json:"preferenceStability"`
}

// PreferencePatterns returns every emotion value per entity, the latest
// rating per entity and dimension, and PreferenceStability.
func (a *Analyzer) PreferencePatterns() Patterns {
	ratings := make(map[string]map[string]float64)
	for _, ev := range a.events {
		if ev.Type != events.TypeRatingChange {
			continue
		}
		var data events.RatingData
		if err := ev.DecodeData(&data); err != nil || data.Dimension == "" {
			continue
		}
		entity := entityOf(ev, data.HouseType)
		if ratings[entity] == nil {
			ratings[entity] = make(map[string]float64)
		}
		ratings[entity][data.Dimension] = data.Rating
	}
	return Patterns{
		EmotionalResponses:  a.emotionsByEntity(),
		DimensionRatings:    ratings,
		PreferenceStability: a.PreferenceStability(),
	}
}

func meanVariance(values []float64) (mean, variance float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, variance
}
