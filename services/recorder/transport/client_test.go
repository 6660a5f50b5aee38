// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SurveyTrace/services/recorder/events"
	"github.com/AleutianAI/SurveyTrace/services/recorder/store"
	"github.com/AleutianAI/SurveyTrace/services/storage/badger"
)

// collector is a fake endpoint recording what it receives.
type collector struct {
	mu       sync.Mutex
	single   []events.Event
	batches  [][]events.Event
	status   atomic.Int32
	batchHit atomic.Int32
	release  chan struct{}
}

func newCollector(t *testing.T) (*collector, *httptest.Server) {
	t.Helper()
	c := &collector{}
	c.status.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc(EventsPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var ev events.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status := int(c.status.Load())
		if status == http.StatusOK {
			c.mu.Lock()
			c.single = append(c.single, ev)
			c.mu.Unlock()
		}
		w.WriteHeader(status)
	})
	mux.HandleFunc(BatchPath, func(w http.ResponseWriter, r *http.Request) {
		c.batchHit.Add(1)
		if c.release != nil {
			<-c.release
		}
		var batch []events.Event
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status := int(c.status.Load())
		if status == http.StatusOK {
			c.mu.Lock()
			c.batches = append(c.batches, batch)
			c.mu.Unlock()
		}
		w.WriteHeader(status)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return c, srv
}

func newTestQueue(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEvent(n int) events.Event {
	return events.Event{
		ID:        fmt.Sprintf("session_t_%d_abcdefghi", n),
		SessionID: "session_t",
		Type:      events.TypeRatingChange,
		Data:      json.RawMessage(`{"rating":4}`),
	}
}

func newTestClient(t *testing.T, endpoint string, q Queue) *Client {
	t.Helper()
	c, err := New(Config{Endpoint: endpoint, Timeout: 2 * time.Second}, q)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, newTestQueue(t))
	assert.ErrorIs(t, err, ErrNoEndpoint)

	_, err = New(Config{Endpoint: "http://x"}, nil)
	assert.ErrorIs(t, err, ErrNilQueue)
}

func TestSend_Delivered(t *testing.T) {
	col, srv := newCollector(t)
	q := newTestQueue(t)
	c := newTestClient(t, srv.URL, q)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.Send(ctx, testEvent(i))
	}
	require.NoError(t, c.Wait(ctx))

	col.mu.Lock()
	assert.Len(t, col.single, 3)
	col.mu.Unlock()

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSend_FailureQueues(t *testing.T) {
	col, srv := newCollector(t)
	col.status.Store(http.StatusServiceUnavailable)
	q := newTestQueue(t)
	c := newTestClient(t, srv.URL, q)
	ctx := context.Background()

	c.Send(ctx, testEvent(1))
	require.NoError(t, c.Wait(ctx))

	queued, err := q.Load(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, testEvent(1).ID, queued[0].ID)
}

func TestSend_UnreachableQueues(t *testing.T) {
	_, srv := newCollector(t)
	url := srv.URL
	srv.Close()

	q := newTestQueue(t)
	c := newTestClient(t, url, q)
	ctx := context.Background()

	c.Send(ctx, testEvent(1))
	c.Send(ctx, testEvent(2))
	require.NoError(t, c.Wait(ctx))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSend_OfflineSkipsNetwork(t *testing.T) {
	col, srv := newCollector(t)
	q := newTestQueue(t)
	c := newTestClient(t, srv.URL, q)
	ctx := context.Background()

	c.SetOnline(false)
	assert.False(t, c.Online())
	c.Send(ctx, testEvent(1))
	require.NoError(t, c.Wait(ctx))

	col.mu.Lock()
	assert.Empty(t, col.single)
	col.mu.Unlock()
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResync_OfflineLeavesQueue(t *testing.T) {
	col, srv := newCollector(t)
	q := newTestQueue(t)
	c := newTestClient(t, srv.URL, q)
	ctx := context.Background()

	require.NoError(t, q.Append(ctx, testEvent(1)))
	c.SetOnline(false)
	n, err := c.Resync(ctx)
	assert.ErrorIs(t, err, ErrOffline)
	assert.Zero(t, n)

	col.mu.Lock()
	assert.Empty(t, col.batches)
	col.mu.Unlock()

	c.SetOnline(true)
	n, err = c.Resync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResync_RemovesExactlySent(t *testing.T) {
	col, srv := newCollector(t)
	q := newTestQueue(t)
	c := newTestClient(t, srv.URL, q)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Append(ctx, testEvent(i)))
	}

	col.release = make(chan struct{})
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := c.Resync(ctx)
		done <- result{n, err}
	}()

	// Entries queued while the batch is in flight must survive.
	require.Eventually(t, func() bool { return col.batchHit.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Append(ctx, testEvent(99)))
	close(col.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 4, res.n)

	remaining, err := q.Load(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, testEvent(99).ID, remaining[0].ID)

	col.mu.Lock()
	require.Len(t, col.batches, 1)
	assert.Len(t, col.batches[0], 4)
	col.mu.Unlock()
}

func TestResync_FailureLeavesQueue(t *testing.T) {
	col, srv := newCollector(t)
	col.status.Store(http.StatusInternalServerError)
	q := newTestQueue(t)
	c := newTestClient(t, srv.URL, q)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Append(ctx, testEvent(i)))
	}

	n, err := c.Resync(ctx)
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Zero(t, n)

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, left)
}

func TestResync_EmptyQueueSkipsNetwork(t *testing.T) {
	col, srv := newCollector(t)
	c := newTestClient(t, srv.URL, newTestQueue(t))

	n, err := c.Resync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, col.batchHit.Load())
}

func TestResync_ConcurrentCallersShareOneBatch(t *testing.T) {
	col, srv := newCollector(t)
	q := newTestQueue(t)
	c := newTestClient(t, srv.URL, q)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Append(ctx, testEvent(i)))
	}
	col.release = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := c.Resync(ctx)
			assert.NoError(t, err)
			results[i] = n
		}(i)
	}
	require.Eventually(t, func() bool { return col.batchHit.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(col.release)
	wg.Wait()

	assert.Equal(t, int32(1), col.batchHit.Load())
	for _, n := range results {
		assert.Equal(t, 3, n)
	}
}

func TestPeriodicResync(t *testing.T) {
	col, srv := newCollector(t)
	q := newTestQueue(t)
	c, err := New(Config{Endpoint: srv.URL, ResyncInterval: 10 * time.Millisecond}, q)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Append(ctx, testEvent(1)))
	c.Start(ctx)
	c.Start(ctx)
	defer c.Stop()

	require.Eventually(t, func() bool {
		n, err := q.Len(ctx)
		return err == nil && n == 0
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, col.batchHit.Load(), int32(1))

	c.Stop()
	c.Stop()
}

func TestWait_RespectsContext(t *testing.T) {
	block := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer slow.Close()
	defer close(block)

	c := newTestClient(t, slow.URL, newTestQueue(t))
	c.Send(context.Background(), testEvent(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
}
