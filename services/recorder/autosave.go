// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// autosaver runs a save function on a fixed interval.
//
// Thread Safety: Start and Stop are safe for concurrent use. Stop waits
// for a save in progress to return.
type autosaver struct {
	interval time.Duration
	save     func(context.Context)
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	exited  chan struct{}
}

func newAutosaver(interval time.Duration, save func(context.Context), logger *slog.Logger) *autosaver {
	return &autosaver{interval: interval, save: save, logger: logger}
}

// Start launches the loop. No-op when already running.
func (a *autosaver) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.done = make(chan struct{})
	a.exited = make(chan struct{})

	a.logger.Debug("autosave starting", slog.String("interval", a.interval.String()))
	go a.runLoop(ctx, a.done, a.exited)
}

// Stop halts the loop and waits for it to exit. Safe to call more than once.
func (a *autosaver) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	close(a.done)
	a.running = false
	exited := a.exited
	a.mu.Unlock()

	<-exited
}

func (a *autosaver) runLoop(ctx context.Context, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			a.save(ctx)
		}
	}
}
