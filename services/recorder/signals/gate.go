// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package signals

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default sampling windows for high-frequency signals.
const (
	DefaultPointerWindow = 500 * time.Millisecond
	DefaultScrollWindow  = 300 * time.Millisecond
)

// Gate admits at most one signal per window for each sampled kind.
//
// Description:
//
//	Each sampled kind gets a token bucket with burst 1 refilled once per
//	window, so the first signal passes and later ones inside the same
//	window are dropped. Kinds without a configured window always pass.
//	Decisions use the signal's own timestamp, which keeps the gate
//	deterministic under a fake clock.
//
// Thread Safety: Safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	limiters map[Kind]*rate.Limiter
}

// NewGate builds a gate with one window per sampled kind. Non-positive
// windows disable sampling for that kind.
func NewGate(windows map[Kind]time.Duration) *Gate {
	g := &Gate{limiters: make(map[Kind]*rate.Limiter, len(windows))}
	for kind, window := range windows {
		if window <= 0 {
			continue
		}
		g.limiters[kind] = rate.NewLimiter(rate.Every(window), 1)
	}
	return g
}

// DefaultGate samples pointer at 500 ms and scroll at 300 ms.
func DefaultGate() *Gate {
	return NewGate(map[Kind]time.Duration{
		KindPointer: DefaultPointerWindow,
		KindScroll:  DefaultScrollWindow,
	})
}

// Allow reports whether a signal of kind observed at at should be recorded.
func (g *Gate) Allow(kind Kind, at time.Time) bool {
	g.mu.Lock()
	limiter, ok := g.limiters[kind]
	g.mu.Unlock()
	if !ok {
		return true
	}
	return limiter.AllowN(at, 1)
}
