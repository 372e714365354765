package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_DispatchInRegistrationOrder(t *testing.T) {
	b := newBus()

	var got []string
	b.on(EventTaskUpdate, func(Event) { got = append(got, "first") })
	b.on(EventTaskUpdate, func(Event) { got = append(got, "second") })
	b.on(EventTaskUpdate, func(Event) { got = append(got, "third") })

	b.emit(Event{Type: EventTaskUpdate})

	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestBus_UnsubscribeRemovesExactlyOne(t *testing.T) {
	b := newBus()

	var got []string
	b.on(EventTaskUpdate, func(Event) { got = append(got, "first") })
	off := b.on(EventTaskUpdate, func(Event) { got = append(got, "second") })
	b.on(EventTaskUpdate, func(Event) { got = append(got, "third") })

	off()
	off() // double unsubscribe is harmless

	b.emit(Event{Type: EventTaskUpdate})

	assert.Equal(t, []string{"first", "third"}, got)
}

func TestBus_HandlerMayUnsubscribeItself(t *testing.T) {
	b := newBus()

	calls := 0
	var off func()
	off = b.on(EventHeartbeat, func(Event) {
		calls++
		off()
	})

	b.emit(Event{Type: EventHeartbeat})
	b.emit(Event{Type: EventHeartbeat})

	assert.Equal(t, 1, calls)
}

func TestBus_TypesAreIsolated(t *testing.T) {
	b := newBus()

	calls := 0
	b.on(EventConnected, func(Event) { calls++ })

	b.emit(Event{Type: EventDisconnected})
	b.emit(Event{Type: EventTaskUpdate})

	assert.Equal(t, 0, calls)
}
