package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwire/tasksync/internal/model"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return Event{}
	}
}

func TestManager_PushSessionDeliversUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverDone := make(chan struct{})

	tsGreet := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	tsUpdate := tsGreet.Add(time.Second)
	task := model.TaskSnapshot{ID: "t1", Title: "write report", UpdatedAt: tsUpdate}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(model.PushEnvelope{
			Type:      model.PushConnected,
			Timestamp: tsGreet,
		}))
		require.NoError(t, conn.WriteJSON(model.PushEnvelope{
			Type:      model.PushTaskUpdate,
			Event:     model.TaskCreated,
			Task:      &task,
			Timestamp: tsUpdate,
		}))
		require.NoError(t, conn.WriteJSON(model.PushEnvelope{
			Type:      model.PushHeartbeat,
			Timestamp: tsUpdate.Add(time.Second),
		}))

		<-serverDone
	}))
	defer srv.Close()
	defer close(serverDone)

	m := New(Config{PushURL: wsURL(srv), Token: "secret"})

	connected := make(chan Event, 1)
	updates := make(chan Event, 4)
	heartbeats := make(chan Event, 4)
	m.On(EventConnected, func(ev Event) { connected <- ev })
	m.On(EventTaskUpdate, func(ev Event) { updates <- ev })
	m.On(EventHeartbeat, func(ev Event) { heartbeats <- ev })

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	waitEvent(t, connected)

	ev := waitEvent(t, updates)
	require.NotNil(t, ev.Update)
	assert.Equal(t, model.TaskCreated, ev.Update.Event)
	assert.Equal(t, "t1", ev.Update.Task.ID)
	assert.Equal(t, tsUpdate, ev.Update.Timestamp)

	waitEvent(t, heartbeats)

	assert.Equal(t, StateConnected, m.State())
	assert.True(t, m.Healthy())
	assert.Equal(t, tsUpdate, m.Watermark())
}

func TestManager_MalformedPushMessageIsDropped(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverDone := make(chan struct{})

	task := model.TaskSnapshot{ID: "t1", Title: "still fine"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		require.NoError(t, conn.WriteJSON(model.PushEnvelope{
			Type:      model.PushTaskUpdate,
			Event:     model.TaskUpdated,
			Task:      &task,
			Timestamp: time.Now().UTC(),
		}))

		<-serverDone
	}))
	defer srv.Close()
	defer close(serverDone)

	m := New(Config{PushURL: wsURL(srv)})
	updates := make(chan Event, 1)
	m.On(EventTaskUpdate, func(ev Event) { updates <- ev })

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	// The garbage frame before it must not kill the channel.
	ev := waitEvent(t, updates)
	assert.Equal(t, "t1", ev.Update.Task.ID)
}

func TestManager_DowngradesToPollingAfterBudget(t *testing.T) {
	var dials int64
	task := model.TaskSnapshot{ID: "t7", Title: "from polling"}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&dials, 1)
		http.Error(w, "push disabled", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/poll", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.PollResponse{
			Timestamp: time.Now().UTC(),
			Tasks:     []model.TaskSnapshot{task},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := New(Config{
		PushURL:      wsURL(srv) + "/ws",
		PollURL:      srv.URL + "/poll",
		BaseDelay:    time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		MaxAttempts:  2,
		PollInterval: 10 * time.Millisecond,
	})

	updates := make(chan Event, 16)
	errs := make(chan Event, 16)
	m.On(EventTaskUpdate, func(ev Event) { updates <- ev })
	m.On(EventError, func(ev Event) { errs <- ev })

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	// Updates arriving proves the downgrade: only polling serves any here.
	ev := waitEvent(t, updates)
	assert.Equal(t, "t7", ev.Update.Task.ID)
	assert.Equal(t, StatePollingFallback, m.State())

	// The error surface fires once per Start, not once per failed dial.
	waitEvent(t, errs)
	select {
	case <-errs:
		t.Fatal("expected a single error event")
	case <-time.After(50 * time.Millisecond):
	}

	// The downgrade is permanent: no dials beyond the budget.
	settled := atomic.LoadInt64(&dials)
	assert.Equal(t, int64(3), settled) // initial + MaxAttempts retries
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, atomic.LoadInt64(&dials))
}

func TestManager_PollingOnlyWithoutPushURL(t *testing.T) {
	task := model.TaskSnapshot{ID: "t2", Title: "poll only"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.PollResponse{
			Timestamp: time.Now().UTC(),
			Tasks:     []model.TaskSnapshot{task},
		})
	}))
	defer srv.Close()

	m := New(Config{PollURL: srv.URL, PollInterval: 10 * time.Millisecond})
	updates := make(chan Event, 16)
	m.On(EventTaskUpdate, func(ev Event) { updates <- ev })

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	ev := waitEvent(t, updates)
	assert.Equal(t, "t2", ev.Update.Task.ID)
	assert.Equal(t, model.TaskUpdated, ev.Update.Event)
	assert.Equal(t, StatePollingFallback, m.State())
}

func TestManager_PollFollowsHasMorePages(t *testing.T) {
	var requests int64
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&requests, 1)
		if n == 1 {
			_ = json.NewEncoder(w).Encode(model.PollResponse{
				Timestamp: base,
				Tasks:     []model.TaskSnapshot{{ID: "t1"}},
				HasMore:   true,
			})
			return
		}
		_ = json.NewEncoder(w).Encode(model.PollResponse{
			Timestamp: base.Add(time.Second),
			Tasks:     []model.TaskSnapshot{{ID: "t2"}},
		})
	}))
	defer srv.Close()

	m := New(Config{PollURL: srv.URL})
	var got []string
	m.On(EventTaskUpdate, func(ev Event) { got = append(got, ev.Update.Task.ID) })

	m.pollOnce(context.Background())

	assert.Equal(t, []string{"t1", "t2"}, got)
	assert.Equal(t, int64(2), atomic.LoadInt64(&requests))
	assert.Equal(t, base.Add(time.Second), m.Watermark())
}

func TestManager_WatermarkNeverRegresses(t *testing.T) {
	newer := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Minute)

	var requests int64
	var sinceParams []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sinceParams = append(sinceParams, r.URL.Query().Get("since"))

		ts := newer
		if atomic.AddInt64(&requests, 1) > 1 {
			// A lagging replica may answer with an older clock; the
			// client must not step back.
			ts = older
		}
		_ = json.NewEncoder(w).Encode(model.PollResponse{Timestamp: ts})
	}))
	defer srv.Close()

	m := New(Config{PollURL: srv.URL})

	m.pollOnce(context.Background())
	assert.Equal(t, newer, m.Watermark())

	m.pollOnce(context.Background())
	assert.Equal(t, newer, m.Watermark())

	// Empty deltas still advance the window: the second request already
	// carries the first response's timestamp.
	require.Len(t, sinceParams, 2)
	assert.Empty(t, sinceParams[0])
	assert.Equal(t, newer.Format(time.RFC3339Nano), sinceParams[1])
}

func TestManager_RestartAfterParentContextCancelled(t *testing.T) {
	var polls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&polls, 1)
		_ = json.NewEncoder(w).Encode(model.PollResponse{Timestamp: time.Now().UTC()})
	}))
	defer srv.Close()

	m := New(Config{PollURL: srv.URL, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&polls) >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		return m.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)
	settled := atomic.LoadInt64(&polls)

	// The dead run must not pin the slot: Start with a live context has to
	// resume polling.
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&polls) > settled
	}, time.Second, 5*time.Millisecond)
}

func TestManager_StartIsIdempotentAndStopIsSafe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.PollResponse{Timestamp: time.Now().UTC()})
	}))
	defer srv.Close()

	m := New(Config{PollURL: srv.URL, PollInterval: 10 * time.Millisecond})

	// Stop before Start is a no-op.
	m.Stop()

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	m.Stop()
	m.Stop()

	assert.Equal(t, StateDisconnected, m.State())
}
