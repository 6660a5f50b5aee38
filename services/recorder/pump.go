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
	"log/slog"
	"time"

	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
	"github.com/AleutianAI/SurveyTrace/services/recorder/signals"
)

// unloadSnapshotTimeout bounds the snapshot taken on page unload.
const unloadSnapshotTimeout = 5 * time.Second

// pump consumes host signals until the source closes or stop is closed.
func (r *Recorder) pump(in <-chan signals.Signal, stop <-chan struct{}) {
	defer r.background.Done()
	for {
		select {
		case <-stop:
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			r.HandleSignal(s)
		}
	}
}

// HandleSignal turns one host signal into events and side effects.
//
// Description:
//
//	Pointer and scroll signals pass through the sampling gate first.
//	Unload records page_unload and snapshots immediately. Connectivity
//	updates the transport and resyncs the offline queue when the device
//	comes back online; it records no event.
func (r *Recorder) HandleSignal(s signals.Signal) {
	at := s.At
	if at.IsZero() {
		at = r.now()
	}

	switch s.Kind {
	case signals.KindVisibility:
		r.Record(Partial{Type: events.TypeVisibilityChange, Data: events.VisibilityData{Hidden: s.Hidden}})

	case signals.KindFocus:
		action := events.FocusLost
		if s.Focused {
			action = events.FocusGained
		}
		r.Record(Partial{Type: events.TypeWindowFocus, Data: events.FocusData{Action: action}})

	case signals.KindUnload:
		if r.Record(Partial{Type: events.TypePageUnload}).ID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), unloadSnapshotTimeout)
		defer cancel()
		_ = r.Snapshot(ctx)

	case signals.KindPointer:
		if r.gate.Allow(signals.KindPointer, at) {
			r.Record(Partial{Type: events.TypeMouseMove, Data: events.PointerData{X: s.X, Y: s.Y}})
		}

	case signals.KindScroll:
		if r.gate.Allow(signals.KindScroll, at) {
			r.Record(Partial{Type: events.TypeScroll, Data: events.ScrollData{ScrollY: s.ScrollY}})
		}

	case signals.KindConnectivity:
		if r.transport == nil {
			return
		}
		r.transport.SetOnline(s.Online)
		r.logger.Info("connectivity changed", slog.Bool("online", s.Online))
		if s.Online {
			r.resync(context.Background(), "reconnect")
		}

	default:
		r.logger.Warn("unknown signal kind", slog.String("kind", string(s.Kind)))
	}
}
