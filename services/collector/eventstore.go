// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
	"github.com/AleutianAI/SurveyTrace/services/storage/badger"
)

// eventKeyPrefix namespaces collected events: "events/<sessionId>/<eventId>".
const eventKeyPrefix = "events/"

// ErrUnknownSession is returned when no events exist for a session.
var ErrUnknownSession = errors.New("unknown session")

// EventStore persists collected events per session.
//
// Events are keyed by session and id, so a resync that repeats an event
// already delivered overwrites it instead of duplicating it.
//
// Thread Safety: Safe for concurrent use.
type EventStore struct {
	db *badger.DB
}

// NewEventStore wraps an open database. The caller keeps ownership of db.
func NewEventStore(db *badger.DB) *EventStore {
	return &EventStore{db: db}
}

func eventKey(sessionID, eventID string) string {
	return eventKeyPrefix + sessionID + "/" + eventID
}

// Put stores evs in one transaction.
func (s *EventStore) Put(ctx context.Context, evs ...events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	return s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		for _, ev := range evs {
			if err := badger.SetJSON(txn, eventKey(ev.SessionID, ev.ID), ev); err != nil {
				return fmt.Errorf("store event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

// List returns a session's events ordered by relativeTime, then seq, then
// id. Events from recorders that predate seq carry zero and fall back to id.
//
// Outputs:
//
//	[]events.Event - Never empty on success.
//	error - ErrUnknownSession when nothing is stored for sessionID.
func (s *EventStore) List(ctx context.Context, sessionID string) ([]events.Event, error) {
	var out []events.Event
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		keys := badger.KeysWithPrefix(txn, eventKeyPrefix+sessionID+"/")
		out = make([]events.Event, 0, len(keys))
		for _, key := range keys {
			var ev events.Event
			if err := badger.GetJSON(txn, key, &ev); err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrUnknownSession)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RelativeTime != out[j].RelativeTime {
			return out[i].RelativeTime < out[j].RelativeTime
		}
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Sessions returns the ids of every session with stored events, sorted.
func (s *EventStore) Sessions(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		keys := badger.KeysWithPrefix(txn, eventKeyPrefix)
		seen := make(map[string]struct{})
		for _, key := range keys {
			rest := strings.TrimPrefix(key, eventKeyPrefix)
			id, _, ok := strings.Cut(rest, "/")
			if !ok {
				continue
			}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
