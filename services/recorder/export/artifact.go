// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export produces the downloadable session artifact.
//
// The artifact is a JSON document named "survey_data_<sessionId>.json" that
// holds the session timing, the full event log and the session stats. It can
// be written to a local directory and optionally uploaded to a GCS bucket.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
)

// FilePrefix and FileExt frame the artifact file name.
const (
	FilePrefix = "survey_data_"
	FileExt    = ".json"
)

// ErrInvalidArtifact is returned when an artifact has no session id.
var ErrInvalidArtifact = errors.New("artifact has no session id")

// SessionInfo is the timing header of an artifact.
type SessionInfo struct {
	SessionID     string `json:"sessionId"`
	StartTime     int64  `json:"startTime"`
	EndTime       int64  `json:"endTime"`
	TotalDuration int64  `json:"totalDuration"`
}

// Stats are the per-session counters included in an artifact.
type Stats struct {
	SessionID              string         `json:"sessionId"`
	TotalEvents            int            `json:"totalEvents"`
	TotalTime              int64          `json:"totalTime"`
	CurrentPhase           string         `json:"currentPhase"`
	EventsByType           map[string]int `json:"eventsByType"`
	EventsByPhase          map[string]int `json:"eventsByPhase"`
	AverageEventsPerMinute float64        `json:"averageEventsPerMinute"`
}

// Artifact is the export document.
type Artifact struct {
	SessionInfo SessionInfo    `json:"sessionInfo"`
	Events      []events.Event `json:"events"`
	Stats       Stats          `json:"stats"`
}

// FileName returns the deterministic artifact file name for sessionID.
func FileName(sessionID string) string {
	return FilePrefix + sessionID + FileExt
}

// IsArtifactName reports whether name looks like an artifact file name.
func IsArtifactName(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, FilePrefix) && strings.HasSuffix(base, FileExt)
}

// Marshal encodes the artifact as indented JSON.
func (a Artifact) Marshal() ([]byte, error) {
	if a.SessionInfo.SessionID == "" {
		return nil, ErrInvalidArtifact
	}
	if a.Events == nil {
		a.Events = []events.Event{}
	}
	return json.MarshalIndent(a, "", "  ")
}

// WriteFile writes the artifact into dir and returns the file path.
//
// Description:
//
//	Writes to a temporary file in dir and renames it into place, so a
//	reader watching dir never sees a half-written artifact.
func WriteFile(dir string, a Artifact) (string, error) {
	data, err := a.Marshal()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create export dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}

	path := filepath.Join(dir, FileName(a.SessionInfo.SessionID))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename artifact: %w", err)
	}
	return path, nil
}

// ReadFile loads an artifact written by WriteFile.
func ReadFile(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("read artifact %s: %w", path, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifact{}, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if a.SessionInfo.SessionID == "" {
		return Artifact{}, fmt.Errorf("%s: %w", path, ErrInvalidArtifact)
	}
	return a, nil
}
