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
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/SurveyTrace/pkg/telemetry"
	"github.com/AleutianAI/SurveyTrace/services/recorder"
	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
	"github.com/AleutianAI/SurveyTrace/services/recorder/export"
	"github.com/AleutianAI/SurveyTrace/services/recorder/signals"
)

var simulatedHouses = []string{"large_house", "medium_house", "small_house"}

// simulateOptions controls a simulate run.
type simulateOptions struct {
	sessions    int
	parallelism int
	seed        uint64
	offline     bool
	upload      bool
}

// virtualClock is a manually advanced clock shared by one scripted session.
type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newSimulateCmd(a *app) *cobra.Command {
	opts := simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Record scripted survey sessions end to end",
		Long: `Drives scripted participants through every survey phase using the
recorder, delivers their events to the configured collector, and writes one
export artifact per session to export.dir.

With --offline every event lands in the offline queue instead; run
"surveytrace queue resync" afterwards to deliver them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := a.simulate(cmd.Context(), opts)
			for _, p := range paths {
				a.out.Success("exported " + p)
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&opts.sessions, "sessions", "n", 1, "number of sessions to record")
	cmd.Flags().IntVar(&opts.parallelism, "parallel", 4, "sessions recorded concurrently")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "seed for simulated responses")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "queue events instead of delivering them")
	cmd.Flags().BoolVar(&opts.upload, "upload", false, "upload artifacts to export.gcs.bucket")
	return cmd
}

// simulate records opts.sessions sessions and returns the artifact paths
// in session order.
func (a *app) simulate(ctx context.Context, opts simulateOptions) ([]string, error) {
	if opts.sessions < 1 {
		return nil, errors.New("--sessions must be at least 1")
	}
	if opts.parallelism < 1 {
		opts.parallelism = 1
	}

	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	client, err := a.newTransport(st)
	if err != nil {
		return nil, err
	}
	if opts.offline {
		client.SetOnline(false)
	}
	client.Start(ctx)
	defer client.Stop()

	var uploader export.Uploader
	if opts.upload {
		gcs := a.cfg.Export.GCS
		if gcs.Bucket == "" {
			return nil, errors.New("--upload needs export.gcs.bucket")
		}
		u, err := export.NewGCSUploader(ctx, gcs.Bucket, gcs.Prefix, gcs.CredentialsFile, a.logger.Slog())
		if err != nil {
			return nil, err
		}
		defer u.Close()
		uploader = u
	}

	paths := make([]string, opts.sessions)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.parallelism)
	for i := range opts.sessions {
		g.Go(func() error {
			clk := &virtualClock{now: time.Now()}
			rec, err := recorder.Open(gctx, recorder.Options{
				Store:            st,
				Transport:        client,
				Gate:             a.gate(),
				SnapshotInterval: -1,
				EmotionRange:     a.cfg.Recorder.EmotionRange,
				Clock:            clk.Now,
				Logger:           a.logger.Slog(),
				Metrics:          telemetry.DefaultMetrics(),
			})
			if err != nil {
				return err
			}
			p, err := a.recordScripted(gctx, rec, clk, rand.New(rand.NewPCG(opts.seed, uint64(i))), uploader)
			paths[i] = p
			return err
		})
	}
	err = g.Wait()

	done := paths[:0]
	for _, p := range paths {
		if p != "" {
			done = append(done, p)
		}
	}
	return done, err
}

func (a *app) gate() *signals.Gate {
	return signals.NewGate(map[signals.Kind]time.Duration{
		signals.KindPointer: a.cfg.Recorder.PointerWindow,
		signals.KindScroll:  a.cfg.Recorder.ScrollWindow,
	})
}

// recordScripted walks one participant through every phase, advancing
// clk between steps, then ends the session and exports it.
func (a *app) recordScripted(ctx context.Context, rec *recorder.Recorder, clk *virtualClock, rng *rand.Rand, uploader export.Uploader) (string, error) {
	step := func(d time.Duration) { clk.Advance(d) }
	emotion := func() float64 { return float64(rng.IntN(7) - 3) }
	rating := func() float64 { return float64(1 + rng.IntN(5)) }

	rec.SetPhase("welcome")
	step(20 * time.Second)
	rec.RecordQuestionnaire("age_group", "select", "25-34", 4*time.Second)
	step(5 * time.Second)
	rec.RecordQuestionnaire("household_size", "number", 1+rng.IntN(5), 6*time.Second)

	step(15 * time.Second)
	rec.SetPhase("preview")
	duration := 90.0
	for _, house := range simulatedHouses {
		rec.SetCurrentHouseContext(house)
		rec.RecordVideo(house, events.VideoPlay, recorder.VideoState{Duration: &duration})
		step(30 * time.Second)
		progress, watched := 30.0, 30.0
		rec.RecordVideo(house, events.VideoPause, recorder.VideoState{Progress: &progress, Duration: &duration, WatchDuration: &watched})
	}

	step(10 * time.Second)
	rec.SetPhase("exhibition")
	for _, house := range simulatedHouses {
		rec.SetCurrentHouseContext(house)
		for j := 0; j < 20; j++ {
			at := clk.Advance(100 * time.Millisecond)
			rec.HandleSignal(signals.Signal{Kind: signals.KindPointer, At: at, X: float64(40 * j), Y: float64(25 * j)})
			if j%4 == 0 {
				rec.HandleSignal(signals.Signal{Kind: signals.KindScroll, At: at, ScrollY: float64(120 * j)})
			}
		}
		rec.RecordEmotion("", emotion())
		step(8 * time.Second)
		all := map[string]float64{}
		for _, dim := range []string{"price", "space", "location"} {
			r := rating()
			all[dim] = r
			rec.RecordRating("", dim, r, all)
			step(3 * time.Second)
		}
		rec.RecordEmotion("", emotion())
		step(12 * time.Second)
	}
	rec.HandleSignal(signals.Signal{Kind: signals.KindVisibility, At: clk.Now(), Hidden: true})
	step(7 * time.Second)
	rec.HandleSignal(signals.Signal{Kind: signals.KindVisibility, At: clk.Now(), Hidden: false})

	rec.SetPhase("comparison")
	order := append([]string(nil), simulatedHouses...)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	step(25 * time.Second)
	rec.RecordRanking(simulatedHouses, order)
	step(10 * time.Second)
	rec.RecordHouseSelection(order[0], "grid", time.Time{})

	step(5 * time.Second)
	rec.SetPhase("interview")
	step(20 * time.Second)
	rec.RecordText("why_choice", "More light and a shorter commute.")
	step(40 * time.Second)
	rec.RecordVoice("describe_ideal_home", 35*time.Second, nil)
	step(5 * time.Second)

	if err := rec.Cleanup(ctx); err != nil {
		a.logger.Warn("session cleanup incomplete", "session_id", rec.SessionID(), "error", err)
	}

	path, err := rec.ExportTo(a.cfg.Export.Dir)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", rec.SessionID(), err)
	}
	if uploader != nil {
		url, err := uploader.Upload(ctx, rec.Export())
		if err != nil {
			return path, err
		}
		a.logger.Info("artifact uploaded", "session_id", rec.SessionID(), "url", url)
	}
	return path, nil
}
