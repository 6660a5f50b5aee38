// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package signals carries passive environment signals to the recorder.
//
// The host environment (a browser bridge, a kiosk shell, a test) produces
// raw signals: visibility and focus changes, unload, pointer and scroll
// positions, connectivity. The recorder consumes them from a Source and
// passes high-frequency kinds through a Gate before turning them into events.
package signals

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Kind identifies a raw signal.
type Kind string

const (
	KindVisibility   Kind = "visibility"
	KindFocus        Kind = "focus"
	KindUnload       Kind = "unload"
	KindPointer      Kind = "pointer"
	KindScroll       Kind = "scroll"
	KindConnectivity Kind = "connectivity"
)

// ErrClosed is returned when emitting on a closed Feed.
var ErrClosed = errors.New("signal feed closed")

// Signal is one raw observation from the host environment.
type Signal struct {
	Kind Kind

	// At is when the host observed the signal. Zero means "now" to the
	// consumer.
	At time.Time

	// Hidden is set for KindVisibility.
	Hidden bool

	// Focused is set for KindFocus.
	Focused bool

	// X and Y are set for KindPointer.
	X, Y float64

	// ScrollY is set for KindScroll.
	ScrollY float64

	// Online is set for KindConnectivity.
	Online bool
}

// Source produces signals until its channel is closed.
type Source interface {
	Signals() <-chan Signal
}

// Feed is a channel-backed Source that host code pushes into.
//
// Thread Safety: Safe for concurrent use. Emit after Close returns ErrClosed.
type Feed struct {
	ch      chan Signal
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
}

// NewFeed creates a feed with the given buffer size.
func NewFeed(buffer int) *Feed {
	if buffer < 0 {
		buffer = 0
	}
	return &Feed{ch: make(chan Signal, buffer), done: make(chan struct{})}
}

// Signals implements Source.
func (f *Feed) Signals() <-chan Signal {
	return f.ch
}

// Emit delivers s, blocking until the consumer accepts it, ctx is done,
// or the feed is closed. A send still blocked when Close runs returns
// ErrClosed.
func (f *Feed) Emit(ctx context.Context, s Signal) error {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return ErrClosed
	}
	f.pending.Add(1)
	f.mu.RUnlock()
	defer f.pending.Done()

	select {
	case f.ch <- s:
		return nil
	case <-f.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Visibility emits a visibility change.
func (f *Feed) Visibility(ctx context.Context, hidden bool) error {
	return f.Emit(ctx, Signal{Kind: KindVisibility, Hidden: hidden})
}

// Focus emits a focus change.
func (f *Feed) Focus(ctx context.Context, focused bool) error {
	return f.Emit(ctx, Signal{Kind: KindFocus, Focused: focused})
}

// Unload emits an unload notice.
func (f *Feed) Unload(ctx context.Context) error {
	return f.Emit(ctx, Signal{Kind: KindUnload})
}

// Pointer emits a pointer position.
func (f *Feed) Pointer(ctx context.Context, x, y float64) error {
	return f.Emit(ctx, Signal{Kind: KindPointer, X: x, Y: y})
}

// Scroll emits a scroll offset.
func (f *Feed) Scroll(ctx context.Context, scrollY float64) error {
	return f.Emit(ctx, Signal{Kind: KindScroll, ScrollY: scrollY})
}

// Connectivity emits a connectivity change.
func (f *Feed) Connectivity(ctx context.Context, online bool) error {
	return f.Emit(ctx, Signal{Kind: KindConnectivity, Online: online})
}

// Close releases blocked senders and then closes the signal channel.
// Safe to call more than once.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.done)
	f.mu.Unlock()

	f.pending.Wait()
	close(f.ch)
}
