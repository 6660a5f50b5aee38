// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the recorder's durable local state: one snapshot slot per
// session and a single global offline queue of undelivered events.
//
// Both live in an embedded BadgerDB. A snapshot slot is keyed
// "survey_data_<sessionId>" and holds the whole session log; the queue is the
// "offline_events" record holding a JSON array of events. Every mutation of
// the queue is a read-modify-write inside one Badger transaction, so a
// concurrent Append and RemoveHead either both apply or one retries.
//
// Thread Safety:
//
//	Store is safe for concurrent use.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/SurveyTrace/pkg/telemetry"
	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
	"github.com/AleutianAI/SurveyTrace/services/storage/badger"
)

const (
	// SnapshotKeyPrefix prefixes every snapshot slot key.
	SnapshotKeyPrefix = "survey_data_"

	// QueueKey is the fixed key of the offline queue record.
	QueueKey = "offline_events"

	// CorruptQueueKeyPrefix prefixes the side keys that keep undecodable
	// queue records, suffixed with the Unix millisecond they were set aside.
	CorruptQueueKeyPrefix = QueueKey + ".corrupt."

	tracerName = "surveytrace/store"

	// maxConflictRetries bounds retries of a queue transaction that lost a
	// write conflict against a concurrent writer.
	maxConflictRetries = 8
)

var (
	// ErrEmptySessionID is returned when a snapshot has no session id.
	ErrEmptySessionID = errors.New("session id is required")

	// ErrInvalidCount is returned by RemoveHead for a negative count.
	ErrInvalidCount = errors.New("remove count must not be negative")
)

// Snapshot is the persisted form of one session.
type Snapshot struct {
	SessionID    string         `json:"sessionId"`
	Events       []events.Event `json:"events"`
	CurrentPhase string         `json:"currentPhase"`
	StartTime    int64          `json:"startTime"`
	LastSaved    int64          `json:"lastSaved"`
}

// SnapshotKey returns the slot key for sessionID.
func SnapshotKey(sessionID string) string {
	return SnapshotKeyPrefix + sessionID
}

// Store persists snapshots and the offline queue.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time

	// queueMu serializes queue read-modify-write cycles in this process.
	queueMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used to stamp lastSaved.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps an open database. The caller keeps ownership of db.
func New(db *badger.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens a database with cfg and wraps it. Close releases it.
func Open(cfg badger.Config, opts ...Option) (*Store, error) {
	db, err := badger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return New(db, opts...), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database.
func (s *Store) DB() *badger.DB {
	return s.db
}

// ===== Snapshots =====

// Snapshot writes snap to its session's slot, overwriting the previous one.
//
// Description:
//
//	Stamps LastSaved with the current time when it is zero and writes the
//	record in one transaction. The slot is replaced atomically; readers
//	never observe a partial snapshot.
//
// Inputs:
//
//	ctx - Cancellation.
//	snap - The session to persist. SessionID is required.
//
// Outputs:
//
//	error - ErrEmptySessionID, or a wrapped storage error.
func (s *Store) Snapshot(ctx context.Context, snap Snapshot) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "store.Snapshot")
	defer span.End()
	span.SetAttributes(telemetry.AttrSessionID.String(snap.SessionID))

	if snap.SessionID == "" {
		telemetry.RecordError(span, ErrEmptySessionID)
		return ErrEmptySessionID
	}
	if snap.LastSaved == 0 {
		snap.LastSaved = s.now().UnixMilli()
	}
	if snap.Events == nil {
		snap.Events = []events.Event{}
	}

	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return badger.SetJSON(txn, SnapshotKey(snap.SessionID), snap)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("snapshot %s: %w", snap.SessionID, err)
	}
	span.SetAttributes(telemetry.AttrBatchSize.Int(len(snap.Events)))
	telemetry.SetSpanOK(span)
	return nil
}

// Restore reads the snapshot for sessionID.
//
// Outputs:
//
//	Snapshot - The stored record, events exactly as written.
//	bool - False when no slot exists or it cannot be decoded. Decode and
//	       storage failures are logged, never returned.
func (s *Store) Restore(ctx context.Context, sessionID string) (Snapshot, bool) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "store.Restore")
	defer span.End()
	span.SetAttributes(telemetry.AttrSessionID.String(sessionID))

	var snap Snapshot
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		return badger.GetJSON(txn, SnapshotKey(sessionID), &snap)
	})
	switch {
	case errors.Is(err, badger.ErrNotFound):
		telemetry.SetSpanOK(span)
		return Snapshot{}, false
	case err != nil:
		telemetry.RecordError(span, err)
		s.logger.Error("snapshot restore failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return Snapshot{}, false
	case snap.SessionID != sessionID:
		telemetry.RecordError(span, fmt.Errorf("stored session id %q: %w", snap.SessionID, badger.ErrCorrupt))
		s.logger.Error("snapshot session mismatch",
			slog.String("session_id", sessionID),
			slog.String("stored_session_id", snap.SessionID))
		return Snapshot{}, false
	}
	span.SetAttributes(telemetry.AttrBatchSize.Int(len(snap.Events)))
	telemetry.SetSpanOK(span)
	return snap, true
}

// ListSessions returns the ids of every stored snapshot.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		for _, key := range badger.KeysWithPrefix(txn, SnapshotKeyPrefix) {
			ids = append(ids, strings.TrimPrefix(key, SnapshotKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

// Delete removes the snapshot slot for sessionID. Missing slots are not an
// error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(SnapshotKey(sessionID)))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", sessionID, err)
	}
	return nil
}
