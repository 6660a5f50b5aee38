// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_CreatesDefaultOnFirstRun(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	require.NoError(t, err)

	path := filepath.Join(home, ".surveytrace", "surveytrace.yaml")
	_, err = os.Stat(path)
	require.NoError(t, err, "default config written")
	assert.Equal(t, filepath.Join(home, ".surveytrace", "data"), cfg.Store.Path)
	assert.Equal(t, 10*time.Second, cfg.Recorder.SnapshotInterval)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Contains(t, raw, "transport")
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
transport:
  endpoint: https://collector.example.org
  resync_interval: 30s
recorder:
  pointer_window: 250ms
store:
  in_memory: true
  path: ""
`))
	require.NoError(t, err)
	assert.Equal(t, "https://collector.example.org", cfg.Transport.Endpoint)
	assert.Equal(t, 30*time.Second, cfg.Transport.ResyncInterval)
	assert.Equal(t, 10*time.Second, cfg.Transport.Timeout, "default kept")
	assert.Equal(t, 250*time.Millisecond, cfg.Recorder.PointerWindow)
	assert.Equal(t, 300*time.Millisecond, cfg.Recorder.ScrollWindow)
	assert.True(t, cfg.Store.InMemory)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad endpoint", "transport:\n  endpoint: not a url\n"},
		{"zero timeout", "transport:\n  timeout: 0s\n"},
		{"no store path", "store:\n  path: \"\"\n"},
		{"negative window", "recorder:\n  scroll_window: -1s\n"},
		{"zero emotion range", "recorder:\n  emotion_range: 0\n"},
		{"influx without url", "collector:\n  influx:\n    enabled: true\n"},
		{"gcs without credentials", "export:\n  gcs:\n    bucket: b\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad exporter", "telemetry:\n  trace_exporter: carrier-pigeon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("transport: [unterminated"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, "x"), ExpandHome("~/x"))
	assert.Equal(t, "/abs", ExpandHome("/abs"))
	assert.Equal(t, "", ExpandHome(""))
}
