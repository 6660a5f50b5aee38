// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
)

// Sink mirrors accepted events to a secondary system. Sink failures are
// logged and counted; they never fail the request.
type Sink interface {
	Name() string
	Write(ctx context.Context, evs []events.Event) error
	Close() error
}

// MeasurementName is the InfluxDB measurement for collected events.
const MeasurementName = "survey_event"

// InfluxConfig locates an InfluxDB 2.x bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes one point per event.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewInfluxSink creates a sink writing to cfg's bucket.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("InfluxDB url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influxdb" }

// Write implements Sink.
func (s *InfluxSink) Write(ctx context.Context, evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(evs))
	for _, ev := range evs {
		points = append(points, EventPoint(ev))
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("InfluxDB write of %d points failed: %w", len(points), err)
	}
	return nil
}

// Close implements Sink.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

// EventPoint converts an event to a line-protocol point. Session, event
// id, type, phase and house are tags, so events sharing a millisecond land
// in distinct series. Timings and any numeric value or rating in the
// payload are fields.
func EventPoint(ev events.Event) *write.Point {
	tags := map[string]string{
		"session_id": ev.SessionID,
		"event_id":   ev.ID,
		"event_type": string(ev.Type),
	}
	if ev.Phase != "" {
		tags["phase"] = ev.Phase
	}
	if ev.CurrentHouseContext != "" {
		tags["house"] = ev.CurrentHouseContext
	}

	fields := map[string]interface{}{
		"relative_time": ev.RelativeTime,
		"phase_time":    ev.PhaseTime,
	}
	var numeric struct {
		Value  *float64 `json:"value"`
		Rating *float64 `json:"rating"`
	}
	if len(ev.Data) > 0 && json.Unmarshal(ev.Data, &numeric) == nil {
		if numeric.Value != nil {
			fields["value"] = *numeric.Value
		}
		if numeric.Rating != nil {
			fields["rating"] = *numeric.Rating
		}
	}

	return influxdb2.NewPoint(MeasurementName, tags, fields, time.UnixMilli(ev.Timestamp))
}
