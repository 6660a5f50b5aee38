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
	"github.com/AleutianAI/SurveyTrace/services/recorder/export"
)

// Stats returns the session counters.
//
// AverageEventsPerMinute is zero until some time has elapsed.
func (r *Recorder) Stats() export.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked(r.now())
}

func (r *Recorder) statsLocked(now time.Time) export.Stats {
	total := now.Sub(r.startTime).Milliseconds()
	if total < 0 {
		total = 0
	}
	stats := export.Stats{
		SessionID:     r.sessionID,
		TotalEvents:   len(r.log),
		TotalTime:     total,
		CurrentPhase:  r.phase,
		EventsByType:  make(map[string]int),
		EventsByPhase: make(map[string]int),
	}
	for _, ev := range r.log {
		stats.EventsByType[string(ev.Type)]++
		stats.EventsByPhase[ev.Phase]++
	}
	if total > 0 {
		stats.AverageEventsPerMinute = float64(len(r.log)) / (float64(total) / float64(time.Minute.Milliseconds()))
	}
	return stats
}

// Export assembles the session artifact as of now.
func (r *Recorder) Export() export.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	start := r.startTime.UnixMilli()
	end := now.UnixMilli()
	return export.Artifact{
		SessionInfo: export.SessionInfo{
			SessionID:     r.sessionID,
			StartTime:     start,
			EndTime:       end,
			TotalDuration: end - start,
		},
		Events: cloneLog(r.log),
		Stats:  r.statsLocked(now),
	}
}

// ExportTo writes the artifact into dir and returns its path.
func (r *Recorder) ExportTo(dir string) (string, error) {
	return export.WriteFile(dir, r.Export())
}

// EventsOfType returns copies of the logged events of type t.
func (r *Recorder) EventsOfType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.log {
		if ev.Type == t {
			out = append(out, ev.Clone())
		}
	}
	return out
}
