// Package notify maintains the client's notification channel: a second
// push connection carrying user-facing alerts, reconnecting with the same
// machinery as the sync transport but with its own backoff counters, so
// neither channel's health can block the other.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/taskwire/tasksync/internal/client/transport"
	"github.com/taskwire/tasksync/internal/model"
)

// Config holds the notification endpoint and tuning; zero values default
// like the sync transport's.
type Config struct {
	URL   string
	Token string

	BaseDelay       time.Duration
	MaxDelay        time.Duration
	MaxAttempts     int
	ConnectTimeout  time.Duration
	HeartbeatWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.HeartbeatWindow <= 0 {
		c.HeartbeatWindow = 90 * time.Second
	}
	return c
}

// Handler consumes one notification event.
type Handler func(model.NotificationEvent)

type subscription struct {
	id int
	fn Handler
}

// Surface owns the notification channel connection. There is no polling
// analogue for alerts: once reconnect attempts are exhausted the surface
// reports an error event and stays down until Start is called again.
type Surface struct {
	cfg Config

	state struct {
		mu sync.Mutex
		v  transport.State
	}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	subMu  sync.Mutex
	nextID int
	subs   map[string][]subscription

	beatMu   sync.Mutex
	lastBeat time.Time
}

func New(cfg Config) *Surface {
	return &Surface{
		cfg:  cfg.withDefaults(),
		subs: make(map[string][]subscription),
	}
}

// Start brings the channel up; idempotent while running.
func (s *Surface) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, cancel, s.done)
	return nil
}

// Stop closes the channel and cancels pending reconnect timers. Safe from
// any state, any number of times.
func (s *Surface) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// On registers a handler for a notification type ("reminder", "heartbeat",
// "connected" or "error"). Handlers run in registration order.
func (s *Surface) On(eventType string, fn Handler) func() {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[eventType] = append(s.subs[eventType], subscription{id: id, fn: fn})
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()

		subs := s.subs[eventType]
		for i, sub := range subs {
			if sub.id == id {
				s.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// State reports the channel's connection state.
func (s *Surface) State() transport.State {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.v
}

// Healthy reports whether a heartbeat arrived within the configured
// window; staleness is a UI hint, not a failure.
func (s *Surface) Healthy() bool {
	s.beatMu.Lock()
	defer s.beatMu.Unlock()
	return !s.lastBeat.IsZero() && time.Since(s.lastBeat) < s.cfg.HeartbeatWindow
}

func (s *Surface) setState(v transport.State) {
	s.state.mu.Lock()
	s.state.v = v
	s.state.mu.Unlock()
}

func (s *Surface) emit(ev model.NotificationEvent) {
	s.subMu.Lock()
	subs := append([]subscription(nil), s.subs[ev.Type]...)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}

func (s *Surface) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer s.setState(transport.StateDisconnected)
	defer func() {
		// A run that exits on its own, spent budget included, releases the
		// slot so the next Start brings the channel back up.
		cancel()
		s.mu.Lock()
		if s.done == done {
			s.cancel = nil
			s.done = nil
		}
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		if attempt == 0 {
			s.setState(transport.StateConnecting)
		}

		established, err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}

		if established {
			attempt = 0
		}

		attempt++
		if attempt > s.cfg.MaxAttempts {
			zlog.Logger.Warn().Err(err).
				Int("attempts", s.cfg.MaxAttempts).
				Msg("notification channel retries exhausted")
			s.emit(model.NotificationEvent{
				Type: "error",
				Data: model.NotificationData{
					Message:   "notification channel unavailable",
					Timestamp: time.Now().UTC(),
				},
			})
			return
		}

		s.setState(transport.StateReconnecting)
		delay := transport.BackoffDelay(attempt-1, s.cfg.BaseDelay, s.cfg.MaxDelay)
		zlog.Logger.Debug().Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("notification channel reconnect scheduled")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Surface) session(ctx context.Context) (bool, error) {
	conn, err := transport.DialPush(ctx, s.cfg.URL, s.cfg.Token, s.cfg.ConnectTimeout)
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to connect to notification channel")
		return false, err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	s.setState(transport.StateConnected)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				zlog.Logger.Warn().Err(err).Msg("notification channel dropped")
			}
			return true, err
		}

		var ev model.NotificationEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			zlog.Logger.Warn().Err(err).Msg("dropping malformed notification")
			continue
		}

		if ev.Type == model.NotifyHeartbeat {
			s.beatMu.Lock()
			s.lastBeat = time.Now()
			s.beatMu.Unlock()
		}

		s.emit(ev)
	}
}
