// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	badgerdb "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/SurveyTrace/pkg/telemetry"
	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
	"github.com/AleutianAI/SurveyTrace/services/storage/badger"
)

// ===== Offline Queue =====

// Append adds ev to the tail of the offline queue.
func (s *Store) Append(ctx context.Context, ev events.Event) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "store.Append")
	defer span.End()
	span.SetAttributes(
		telemetry.AttrSessionID.String(ev.SessionID),
		telemetry.AttrEventType.String(string(ev.Type)),
	)

	return endSpan(span, s.updateQueue(ctx, func(queue []events.Event) ([]events.Event, error) {
		return append(queue, ev), nil
	}))
}

// Load returns a copy of the whole offline queue, oldest first. A corrupt
// record reads as empty; the next write sets it aside.
func (s *Store) Load(ctx context.Context) ([]events.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "store.Load")
	defer span.End()

	var queue []events.Event
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		var (
			corrupt []byte
			err     error
		)
		queue, corrupt, err = readQueue(txn)
		if corrupt != nil {
			s.logger.Error("offline queue record is corrupt, reading as empty",
				slog.Int("bytes", len(corrupt)))
		}
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load queue: %w", err)
	}
	span.SetAttributes(telemetry.AttrBatchSize.Int(len(queue)))
	telemetry.SetSpanOK(span)
	return queue, nil
}

// Len returns the number of queued events.
func (s *Store) Len(ctx context.Context) (int, error) {
	queue, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	return len(queue), nil
}

// RemoveHead drops the first n queued events.
//
// Description:
//
//	Used after a successful batch resync of n events. Entries appended
//	after the batch was read sit behind those n and survive. Removing more
//	entries than are queued empties the queue.
//
// Inputs:
//
//	ctx - Cancellation.
//	n - Number of head entries to drop. Zero is a no-op.
//
// Outputs:
//
//	error - ErrInvalidCount for negative n, or a wrapped storage error.
//
// Thread Safety: Atomic with respect to concurrent Append.
func (s *Store) RemoveHead(ctx context.Context, n int) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "store.RemoveHead")
	defer span.End()
	span.SetAttributes(telemetry.AttrBatchSize.Int(n))

	if n < 0 {
		return endSpan(span, ErrInvalidCount)
	}
	if n == 0 {
		return endSpan(span, nil)
	}
	return endSpan(span, s.updateQueue(ctx, func(queue []events.Event) ([]events.Event, error) {
		if n >= len(queue) {
			return nil, nil
		}
		return queue[n:], nil
	}))
}

// updateQueue applies fn to the queue in one transaction, retrying on write
// conflicts with writers outside this process. A corrupt record is copied
// to a CorruptQueueKeyPrefix key in the same transaction before fn sees an
// empty queue.
func (s *Store) updateQueue(ctx context.Context, fn func([]events.Event) ([]events.Event, error)) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var sideKey string
		err = s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
			queue, corrupt, err := readQueue(txn)
			if err != nil {
				return err
			}
			if corrupt != nil {
				sideKey = CorruptQueueKeyPrefix + strconv.FormatInt(s.now().UnixMilli(), 10)
				if err := txn.Set([]byte(sideKey), corrupt); err != nil {
					return fmt.Errorf("set aside corrupt queue: %w", err)
				}
			}
			next, err := fn(queue)
			if err != nil {
				return err
			}
			if len(next) == 0 {
				return txn.Delete([]byte(QueueKey))
			}
			return badger.SetJSON(txn, QueueKey, next)
		})
		if err == nil && sideKey != "" {
			s.logger.Error("offline queue record is corrupt, moved aside and starting empty",
				slog.String("key", sideKey))
		}
		if !errors.Is(err, badgerdb.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("update queue: %w", err)
	}
	return nil
}

// readQueue decodes the queue record. When the record cannot be decoded
// the queue is empty and corrupt holds a copy of the raw bytes.
func readQueue(txn *badgerdb.Txn) (queue []events.Event, corrupt []byte, err error) {
	err = badger.GetJSON(txn, QueueKey, &queue)
	switch {
	case err == nil:
		return queue, nil, nil
	case errors.Is(err, badger.ErrNotFound):
		return nil, nil, nil
	case errors.Is(err, badger.ErrCorrupt):
		item, gerr := txn.Get([]byte(QueueKey))
		if gerr != nil {
			return nil, nil, gerr
		}
		raw, gerr := item.ValueCopy(nil)
		if gerr != nil {
			return nil, nil, gerr
		}
		return nil, raw, nil
	default:
		return nil, nil, err
	}
}

// endSpan closes out span with err and returns err unchanged.
func endSpan(span trace.Span, err error) error {
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetSpanOK(span)
	return nil
}
