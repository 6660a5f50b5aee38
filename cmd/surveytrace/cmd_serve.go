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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SurveyTrace/services/collector"
	"github.com/AleutianAI/SurveyTrace/services/storage/badger"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event collector",
		Long: `Runs the HTTP collector recorders deliver events to.

Events are stored in a local Badger database under collector.data_dir and,
when collector.influx.enabled is set, mirrored to InfluxDB.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Collector.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runCollector(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override collector.addr")
	return cmd
}

func (a *app) runCollector(ctx context.Context) error {
	dbCfg := badger.DefaultConfig()
	dbCfg.Path = a.cfg.Collector.DataDir
	dbCfg.Logger = a.logger.Slog()
	db, err := badger.Open(dbCfg)
	if err != nil {
		return fmt.Errorf("open collector store: %w", err)
	}
	defer db.Close()

	opts := []collector.Option{collector.WithLogger(a.logger.Slog())}
	if influx := a.cfg.Collector.Influx; influx.Enabled {
		sink, err := collector.NewInfluxSink(collector.InfluxConfig{
			URL:    influx.URL,
			Token:  influx.Token,
			Org:    influx.Org,
			Bucket: influx.Bucket,
		})
		if err != nil {
			return err
		}
		opts = append(opts, collector.WithSink(sink))
		a.logger.Info("mirroring events to InfluxDB", "url", influx.URL, "bucket", influx.Bucket)
	}

	srv := collector.New(collector.Config{Addr: a.cfg.Collector.Addr}, collector.NewEventStore(db), opts...)

	err = srv.Run(ctx)
	a.logger.Info("collector stopped")
	return err
}
