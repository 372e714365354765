// Package scheduler arms one timer per reminder for its initial delivery.
// Backoff between retry attempts is the broker's job; this package only
// covers the gap between "created now" and "due at send_at".
package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"
)

// Scheduler holds at most one pending timer per reminder ID. Scheduling an
// ID that already has a timer replaces it.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	stopped bool
}

func New() *Scheduler {
	return &Scheduler{timers: make(map[uuid.UUID]*time.Timer)}
}

// Schedule arms a timer that runs fire at the given time. A due time in the
// past fires immediately. The timer removes itself before firing so a
// reminder can be re-scheduled from inside its own callback.
func (s *Scheduler) Schedule(id uuid.UUID, at time.Time, fire func()) {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if t, ok := s.timers[id]; ok {
		t.Stop()
	}

	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		stopped := s.stopped
		s.mu.Unlock()

		if stopped {
			return
		}

		zlog.Logger.Debug().Str("reminder_id", id.String()).Msg("reminder timer fired")
		fire()
	})
}

// Cancel stops and removes the pending timer for a reminder, if any.
func (s *Scheduler) Cancel(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Stop cancels every pending timer. Safe to call more than once; timers
// that already fired are unaffected.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Len reports the number of armed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
