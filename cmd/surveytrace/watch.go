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
	"log/slog"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/SurveyTrace/services/recorder/export"
)

const defaultWatchDebounce = 250 * time.Millisecond

// artifactWatcher reports export artifacts created or rewritten in one
// directory.
//
// Description:
//
//	Events for the same file inside one debounce window collapse into a
//	single callback. Non-artifact names, including the temporary files
//	export.WriteFile renames into place, are ignored.
//
// Thread Safety: Run must be called once.
type artifactWatcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

func newArtifactWatcher(dir string, debounce time.Duration, logger *slog.Logger) (*artifactWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &artifactWatcher{dir: dir, watcher: w, debounce: debounce, logger: logger}, nil
}

// Run delivers changed artifact paths to handle, in name order per batch,
// until ctx is cancelled. Pending changes are flushed before returning.
func (w *artifactWatcher) Run(ctx context.Context, handle func(path string)) error {
	defer w.watcher.Close()

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		clear(pending)
		for _, p := range paths {
			handle(p)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				flush()
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !export.IsArtifactName(ev.Name) {
				continue
			}
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			flush()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				flush()
				return nil
			}
			w.logger.Warn("artifact watcher error", slog.String("dir", w.dir), slog.String("error", err.Error()))
		}
	}
}
