package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwire/tasksync/internal/model"
)

type fakeBroadcaster struct {
	envelopes []model.PushEnvelope
	err       error
}

func (f *fakeBroadcaster) Broadcast(v interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.envelopes = append(f.envelopes, v.(model.PushEnvelope))
	return nil
}

func ingest(t *testing.T, hub *fakeBroadcaster, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	handler := NewHandler(hub)
	req := httptest.NewRequest(http.MethodPost, "/api/events/task", bytes.NewReader(body))
	w := httptest.NewRecorder()

	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.Ingest(c)
	return w
}

func TestHandler_Ingest_Success(t *testing.T) {
	hub := &fakeBroadcaster{}
	ts := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	body, _ := json.Marshal(model.TaskUpdateEvent{
		Event:     model.TaskCreated,
		Task:      model.TaskSnapshot{ID: "t1", Title: "write report"},
		Timestamp: ts,
	})

	w := ingest(t, hub, body)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	require.Len(t, hub.envelopes, 1)
	env := hub.envelopes[0]
	assert.Equal(t, model.PushTaskUpdate, env.Type)
	assert.Equal(t, model.TaskCreated, env.Event)
	assert.Equal(t, ts, env.Timestamp)
	require.NotNil(t, env.Task)
	assert.Equal(t, "t1", env.Task.ID)
}

func TestHandler_Ingest_DefaultsTimestamp(t *testing.T) {
	hub := &fakeBroadcaster{}

	body, _ := json.Marshal(model.TaskUpdateEvent{
		Event: model.TaskDeleted,
		Task:  model.TaskSnapshot{ID: "t1"},
	})

	w := ingest(t, hub, body)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	require.Len(t, hub.envelopes, 1)
	assert.False(t, hub.envelopes[0].Timestamp.IsZero())
}

func TestHandler_Ingest_UnknownKind(t *testing.T) {
	hub := &fakeBroadcaster{}

	body, _ := json.Marshal(model.TaskUpdateEvent{
		Event: "archived",
		Task:  model.TaskSnapshot{ID: "t1"},
	})

	w := ingest(t, hub, body)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
	assert.Empty(t, hub.envelopes)
}

func TestHandler_Ingest_MissingTaskID(t *testing.T) {
	hub := &fakeBroadcaster{}

	body, _ := json.Marshal(model.TaskUpdateEvent{
		Event: model.TaskUpdated,
		Task:  model.TaskSnapshot{Title: "no id"},
	})

	w := ingest(t, hub, body)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
	assert.Empty(t, hub.envelopes)
}

func TestHandler_Ingest_BadBody(t *testing.T) {
	w := ingest(t, &fakeBroadcaster{}, []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestHandler_Ingest_BroadcastError(t *testing.T) {
	hub := &fakeBroadcaster{err: errors.New("hub closed")}

	body, _ := json.Marshal(model.TaskUpdateEvent{
		Event: model.TaskCompleted,
		Task:  model.TaskSnapshot{ID: "t1"},
	})

	w := ingest(t, hub, body)

	assert.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
}
