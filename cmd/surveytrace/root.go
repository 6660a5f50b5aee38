// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SurveyTrace/pkg/config"
	"github.com/AleutianAI/SurveyTrace/pkg/logging"
	"github.com/AleutianAI/SurveyTrace/pkg/telemetry"
	"github.com/AleutianAI/SurveyTrace/pkg/ux"
	"github.com/AleutianAI/SurveyTrace/services/recorder/store"
	"github.com/AleutianAI/SurveyTrace/services/recorder/transport"
	"github.com/AleutianAI/SurveyTrace/services/storage/badger"
)

// app carries state shared by every command.
type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *logging.Logger
	out    *ux.Printer
	stdout io.Writer
	stderr io.Writer

	shutdownTelemetry func(context.Context) error
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "surveytrace",
		Short:         "Collect and analyze survey interaction telemetry",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		"config file (default ~/.surveytrace/surveytrace.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(a),
		newAnalyzeCmd(a),
		newQueueCmd(a),
		newSimulateCmd(a),
	)
	return root
}

// setup loads config, then builds the logger and telemetry providers.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "surveytrace",
		JSON:    cfg.Logging.JSON,
		Output:  a.stderr,
	})
	a.out = ux.NewPrinter(a.stdout)

	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		a.logger.Warn("telemetry disabled", "error", err)
		shutdown = func(context.Context) error { return nil }
	}
	a.shutdownTelemetry = shutdown
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	if a.shutdownTelemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err = a.shutdownTelemetry(shutdownCtx)
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
	return err
}

// ===== Shared Wiring =====

func (a *app) badgerConfig() badger.Config {
	cfg := badger.DefaultConfig()
	cfg.Path = a.cfg.Store.Path
	cfg.InMemory = a.cfg.Store.InMemory
	cfg.SyncWrites = a.cfg.Store.SyncWrites
	cfg.GCInterval = a.cfg.Store.GCInterval
	cfg.Logger = a.logger.Slog()
	return cfg
}

func (a *app) openStore() (*store.Store, error) {
	st, err := store.Open(a.badgerConfig(), store.WithLogger(a.logger.Slog()))
	if err != nil {
		return nil, fmt.Errorf("open recorder store: %w", err)
	}
	return st, nil
}

func (a *app) newTransport(queue transport.Queue) (*transport.Client, error) {
	return transport.New(transport.Config{
		Endpoint:       a.cfg.Transport.Endpoint,
		Timeout:        a.cfg.Transport.Timeout,
		ResyncInterval: a.cfg.Transport.ResyncInterval,
	}, queue,
		transport.WithLogger(a.logger.Slog()),
		transport.WithMetrics(telemetry.DefaultMetrics()))
}
