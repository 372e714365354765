// Package reconcile merges inbound task update events into the client-held
// task collection. Snapshots are authoritative: every apply replaces whole
// records, never individual fields, so reconciliation cannot resurrect
// stale state.
package reconcile

import (
	"sync"

	"github.com/wb-go/wbf/zlog"

	"github.com/taskwire/tasksync/internal/model"
)

// Collection is the authoritative in-memory task set on the client. It is
// safe for concurrent use, though events are expected to arrive from a
// single dispatch goroutine and are applied in arrival order.
type Collection struct {
	mu    sync.RWMutex
	order []string
	tasks map[string]model.TaskSnapshot
}

func NewCollection() *Collection {
	return &Collection{tasks: make(map[string]model.TaskSnapshot)}
}

// Apply merges one update event:
//
//   - created: append if the id is unknown, otherwise a no-op, so duplicate
//     delivery is harmless.
//   - updated/completed: replace the stored snapshot wholesale; an unknown
//     id is appended (polling deltas carry no created/updated distinction).
//   - deleted: remove; absence is not an error.
//
// Events are applied in arrival order. Concurrent edits resolve as
// last-write-wins; overwriting a locally newer snapshot logs a warning.
func (c *Collection) Apply(ev model.TaskUpdateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := ev.Task.ID
	if id == "" {
		zlog.Logger.Warn().Str("event", ev.Event).Msg("dropping task event without an id")
		return
	}

	switch ev.Event {
	case model.TaskCreated:
		if _, ok := c.tasks[id]; ok {
			return
		}
		c.tasks[id] = ev.Task
		c.order = append(c.order, id)

	case model.TaskUpdated, model.TaskCompleted:
		if prev, ok := c.tasks[id]; ok {
			if prev.UpdatedAt.After(ev.Task.UpdatedAt) {
				zlog.Logger.Warn().
					Str("task_id", id).
					Time("local", prev.UpdatedAt).
					Time("inbound", ev.Task.UpdatedAt).
					Msg("inbound snapshot overwrites a newer local edit")
			}
			c.tasks[id] = ev.Task
			return
		}
		c.tasks[id] = ev.Task
		c.order = append(c.order, id)

	case model.TaskDeleted:
		if _, ok := c.tasks[id]; !ok {
			return
		}
		delete(c.tasks, id)
		for i, oid := range c.order {
			if oid == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}

	default:
		zlog.Logger.Warn().Str("event", ev.Event).Msg("dropping unknown task event kind")
	}
}

// Get returns the snapshot for an id.
func (c *Collection) Get(id string) (model.TaskSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	return t, ok
}

// Tasks returns all snapshots in insertion order.
func (c *Collection) Tasks() []model.TaskSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.TaskSnapshot, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tasks[id])
	}
	return out
}

// Len reports the number of tasks held.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tasks)
}
