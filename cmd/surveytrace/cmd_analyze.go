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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SurveyTrace/pkg/ux"
	"github.com/AleutianAI/SurveyTrace/services/recorder/analyzer"
	"github.com/AleutianAI/SurveyTrace/services/recorder/export"
)

// errNoArtifacts is returned when a directory holds no export artifacts.
var errNoArtifacts = errors.New("no survey_data_*.json artifacts found")

// analysis is one analyzed export artifact.
type analysis struct {
	File      string          `json:"file"`
	SessionID string          `json:"sessionId"`
	Stats     export.Stats    `json:"stats"`
	Report    analyzer.Report `json:"report"`
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		watch  bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <artifact|directory>",
		Short: "Analyze exported session artifacts",
		Long: `Computes engagement, preference patterns, the timeline and the
phase × type heatmap for exported sessions.

Output is styled on a terminal and JSON otherwise. With --watch, the
directory is watched and every new or rewritten artifact is analyzed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			jsonOut := asJSON || !a.out.Styled()

			if !watch {
				results, err := analyzePath(target)
				if err != nil {
					return err
				}
				return a.printAnalyses(results, jsonOut)
			}

			info, err := os.Stat(target)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("--watch needs a directory, got %s", target)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := newArtifactWatcher(target, defaultWatchDebounce, a.logger.Slog())
			if err != nil {
				return err
			}
			a.out.Info(fmt.Sprintf("watching %s for artifacts", target))
			return w.Run(ctx, func(path string) {
				res, err := analyzeFile(path)
				if err != nil {
					a.logger.Warn("artifact analysis failed", "file", path, "error", err)
					return
				}
				if err := a.printAnalyses([]analysis{res}, jsonOut); err != nil {
					a.logger.Warn("write analysis failed", "error", err)
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "watch the directory for new artifacts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "always print JSON")
	return cmd
}

// analyzePath analyzes one artifact, or every artifact in a directory in
// name order.
func analyzePath(target string) ([]analysis, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		res, err := analyzeFile(target)
		if err != nil {
			return nil, err
		}
		return []analysis{res}, nil
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && export.IsArtifactName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: %w", target, errNoArtifacts)
	}
	sort.Strings(names)

	results := make([]analysis, 0, len(names))
	for _, name := range names {
		res, err := analyzeFile(filepath.Join(target, name))
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func analyzeFile(path string) (analysis, error) {
	art, err := export.ReadFile(path)
	if err != nil {
		return analysis{}, err
	}
	return analysis{
		File:      path,
		SessionID: art.SessionInfo.SessionID,
		Stats:     art.Stats,
		Report:    analyzer.New(art.Events).Report(),
	}, nil
}

func (a *app) printAnalyses(results []analysis, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(a.out.Writer())
		enc.SetIndent("", "  ")
		if len(results) == 1 {
			return enc.Encode(results[0])
		}
		return enc.Encode(results)
	}
	for _, res := range results {
		renderAnalysis(a.out, res)
	}
	return nil
}

// renderAnalysis prints the human-readable report.
func renderAnalysis(p *ux.Printer, res analysis) {
	r := res.Report
	p.Title("Session " + res.SessionID)
	p.KeyValue("file", filepath.Base(res.File))
	p.KeyValue("events", res.Stats.TotalEvents)
	p.KeyValue("final phase", res.Stats.CurrentPhase)
	p.KeyValue("events / minute", fmt.Sprintf("%.2f", res.Stats.AverageEventsPerMinute))
	p.KeyValue("interactions", r.Engagement.TotalInteractions)
	p.KeyValue("engagement", p.ProgressBar(r.Engagement.EngagementScore, 20))

	if len(r.Engagement.TimeSpentOnPhases) > 0 {
		seconds := make(map[string]int, len(r.Engagement.TimeSpentOnPhases))
		for phase, ms := range r.Engagement.TimeSpentOnPhases {
			seconds[phase] = int(ms / 1000)
		}
		p.Counts("seconds per phase", seconds)
	}

	if len(r.SummaryStats) > 0 {
		var b strings.Builder
		houses := make([]string, 0, len(r.SummaryStats))
		for h := range r.SummaryStats {
			houses = append(houses, h)
		}
		sort.Strings(houses)
		for _, h := range houses {
			st := r.SummaryStats[h]
			fmt.Fprintf(&b, "%-14s %3d interactions  emotion %+.2f  rating %.2f\n",
				h, st.TotalInteractions, st.AverageEmotion, st.AverageRating)
		}
		p.Box("Houses", strings.TrimRight(b.String(), "\n"))
	}

	if len(r.Heatmap) > 0 {
		var b strings.Builder
		for _, phase := range analyzer.DefaultHeatmapPhases {
			row, ok := r.Heatmap[phase]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "%-11s", phase)
			for _, typ := range analyzer.DefaultHeatmapTypes {
				fmt.Fprintf(&b, " %s=%d", typ, row[typ])
			}
			b.WriteString("\n")
		}
		p.Box("Heatmap", strings.TrimRight(b.String(), "\n"))
	}
}
