// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the SurveyTrace YAML configuration.
package config

import (
	"time"

	"github.com/AleutianAI/SurveyTrace/pkg/telemetry"
)

// Config is the root of surveytrace.yaml.
type Config struct {
	Recorder  RecorderConfig   `yaml:"recorder"`
	Store     StoreConfig      `yaml:"store"`
	Transport TransportConfig  `yaml:"transport"`
	Collector CollectorConfig  `yaml:"collector"`
	Export    ExportConfig     `yaml:"export"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// RecorderConfig tunes the session recorder.
type RecorderConfig struct {
	// SnapshotInterval is the autosave period. Negative disables autosave.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	PointerWindow    time.Duration `yaml:"pointer_window" validate:"gte=0s"`
	ScrollWindow     time.Duration `yaml:"scroll_window" validate:"gte=0s"`
	EmotionRange     float64       `yaml:"emotion_range" validate:"gt=0"`
}

// StoreConfig locates the on-device Badger database.
type StoreConfig struct {
	Path       string        `yaml:"path" validate:"required_unless=InMemory true"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0s"`
}

// TransportConfig points the recorder at a collector.
type TransportConfig struct {
	Endpoint       string        `yaml:"endpoint" validate:"required,url"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0s"`
	ResyncInterval time.Duration `yaml:"resync_interval" validate:"gte=0s"`
}

// CollectorConfig configures the collector server.
type CollectorConfig struct {
	Addr    string       `yaml:"addr" validate:"required,hostname_port"`
	DataDir string       `yaml:"data_dir" validate:"required"`
	Influx  InfluxConfig `yaml:"influx"`
}

// InfluxConfig enables mirroring collected events to InfluxDB.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org" validate:"required_if=Enabled true"`
	Bucket  string `yaml:"bucket" validate:"required_if=Enabled true"`
}

// ExportConfig sets where artifacts are written and uploaded.
type ExportConfig struct {
	Dir string    `yaml:"dir" validate:"required"`
	GCS GCSConfig `yaml:"gcs"`
}

// GCSConfig enables artifact upload when Bucket is set.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file" validate:"required_with=Bucket"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration written on first run.
func Default() Config {
	return Config{
		Recorder: RecorderConfig{
			SnapshotInterval: 10 * time.Second,
			PointerWindow:    500 * time.Millisecond,
			ScrollWindow:     300 * time.Millisecond,
			EmotionRange:     3,
		},
		Store: StoreConfig{
			Path:       "~/.surveytrace/data",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Transport: TransportConfig{
			Endpoint: "http://localhost:8090",
			Timeout:  10 * time.Second,
		},
		Collector: CollectorConfig{
			Addr:    "localhost:8090",
			DataDir: "~/.surveytrace/collector",
			Influx: InfluxConfig{
				Org:    "surveytrace",
				Bucket: "events",
			},
		},
		Export: ExportConfig{
			Dir: "~/.surveytrace/exports",
			GCS: GCSConfig{Prefix: "sessions"},
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info"},
	}
}
