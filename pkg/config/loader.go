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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultPath returns ~/.surveytrace/surveytrace.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".surveytrace", "surveytrace.yaml"), nil
}

// Load reads and validates the configuration.
//
// Description:
//
//	An empty path means DefaultPath, which is created with Default() on
//	first run. An explicit path must exist. Keys missing from the file
//	keep their default values. Paths beginning with "~" are expanded.
//
// Outputs:
//
//	Config - The validated configuration.
//	error - Read, parse, or ErrInvalid validation failure.
func Load(path string) (Config, error) {
	if path == "" {
		def, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = def
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := createDefault(path); err != nil {
				return Config{}, err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Store.Path = ExpandHome(c.Store.Path)
	c.Collector.DataDir = ExpandHome(c.Collector.DataDir)
	c.Export.Dir = ExpandHome(c.Export.Dir)
	c.Export.GCS.CredentialsFile = ExpandHome(c.Export.GCS.CredentialsFile)
	c.Logging.Dir = ExpandHome(c.Logging.Dir)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode the default config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
