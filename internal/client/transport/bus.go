package transport

import (
	"sync"
	"time"

	"github.com/taskwire/tasksync/internal/model"
)

// EventType categorizes events the transport emits to subscribers.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventTaskUpdate   EventType = "task_update"
	EventHeartbeat    EventType = "heartbeat"
	EventError        EventType = "error"
)

// Event is what subscribers receive. Update is set only for task_update
// events, Err only for error events.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Update    *model.TaskUpdateEvent
	Err       error
}

// Handler consumes one event. Handlers run on the transport's dispatch
// goroutine, so they must not block.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// bus is an ordered handler registry: handlers for a type run in
// registration order, and unsubscribing removes exactly one registration.
type bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[EventType][]subscription
}

func newBus() *bus {
	return &bus{subs: make(map[EventType][]subscription)}
}

// on registers a handler and returns a function that removes it.
func (b *bus) on(t EventType, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subs[t]
		for i, s := range subs {
			if s.id == id {
				b.subs[t] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// emit invokes every handler registered for the event's type, in
// registration order. The handler list is copied so a handler may
// unsubscribe itself mid-dispatch.
func (b *bus) emit(ev Event) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs[ev.Type]...)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
