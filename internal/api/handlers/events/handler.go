package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/taskwire/tasksync/internal/api/respond"
	"github.com/taskwire/tasksync/internal/model"
)

// broadcaster fans an envelope out to every sync channel subscriber.
type broadcaster interface {
	Broadcast(v interface{}) error
}

// Handler ingests task update events from the CRUD collaborator and fans
// them out on the sync push channel. This is the single emission point for
// task updates, so push consumers see exactly what polling consumers see.
type Handler struct {
	syncHub broadcaster
}

func NewHandler(syncHub broadcaster) *Handler {
	return &Handler{syncHub: syncHub}
}

var validKinds = map[string]bool{
	model.TaskCreated:   true,
	model.TaskUpdated:   true,
	model.TaskDeleted:   true,
	model.TaskCompleted: true,
}

// Ingest handles POST /api/events/task.
func (h *Handler) Ingest(c *ginext.Context) {
	var ev model.TaskUpdateEvent

	if err := json.NewDecoder(c.Request.Body).Decode(&ev); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode task update event")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if !validKinds[ev.Event] {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("unknown event kind %q", ev.Event))
		return
	}

	if ev.Task.ID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing task id"))
		return
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	env := model.PushEnvelope{
		Type:      model.PushTaskUpdate,
		Event:     ev.Event,
		Task:      &ev.Task,
		Timestamp: ev.Timestamp,
	}

	if err := h.syncHub.Broadcast(env); err != nil {
		zlog.Logger.Error().Err(err).Str("task_id", ev.Task.ID).Msg("failed to broadcast task update")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, "accepted")
}
