package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestScheduler_FiresDueTimer(t *testing.T) {
	s := New()
	defer s.Stop()

	fired := make(chan struct{})
	s.Schedule(uuid.New(), time.Now().Add(10*time.Millisecond), func() {
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	assert.Equal(t, 0, s.Len(), "fired timer must remove itself")
}

func TestScheduler_PastDueFiresImmediately(t *testing.T) {
	s := New()
	defer s.Stop()

	fired := make(chan struct{})
	s.Schedule(uuid.New(), time.Now().Add(-time.Hour), func() {
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("overdue timer never fired")
	}
}

func TestScheduler_RescheduleReplacesTimer(t *testing.T) {
	s := New()
	defer s.Stop()

	id := uuid.New()
	fired := make(chan string, 2)

	s.Schedule(id, time.Now().Add(20*time.Millisecond), func() { fired <- "old" })
	s.Schedule(id, time.Now().Add(40*time.Millisecond), func() { fired <- "new" })

	assert.Equal(t, 1, s.Len())

	select {
	case which := <-fired:
		assert.Equal(t, "new", which, "replaced timer must not fire")
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	select {
	case which := <-fired:
		t.Fatalf("unexpected second fire: %s", which)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestScheduler_CancelDisarmsTimer(t *testing.T) {
	s := New()
	defer s.Stop()

	id := uuid.New()
	fired := make(chan struct{}, 1)

	s.Schedule(id, time.Now().Add(20*time.Millisecond), func() { fired <- struct{}{} })
	s.Cancel(id)

	assert.Equal(t, 0, s.Len())

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestScheduler_CancelUnknownIDIsNoop(t *testing.T) {
	s := New()
	defer s.Stop()

	s.Cancel(uuid.New())
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_StopDisarmsEverything(t *testing.T) {
	s := New()

	fired := make(chan struct{}, 2)
	s.Schedule(uuid.New(), time.Now().Add(20*time.Millisecond), func() { fired <- struct{}{} })
	s.Schedule(uuid.New(), time.Now().Add(20*time.Millisecond), func() { fired <- struct{}{} })

	s.Stop()
	s.Stop() // idempotent

	assert.Equal(t, 0, s.Len())

	select {
	case <-fired:
		t.Fatal("timer fired after Stop")
	case <-time.After(60 * time.Millisecond):
	}

	// A stopped scheduler refuses new work.
	s.Schedule(uuid.New(), time.Now(), func() { fired <- struct{}{} })
	assert.Equal(t, 0, s.Len())
}
