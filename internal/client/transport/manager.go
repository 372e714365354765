// Package transport keeps a client's view of the task stream connected to
// the server: a websocket push channel with automatic reconnection,
// degrading permanently to interval polling once the retry budget is spent.
// Push and polling feed subscribers through the same event path, so
// consumers never know which transport is active.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/taskwire/tasksync/internal/model"
)

// Config holds transport endpoints and tuning. Zero values fall back to
// the defaults documented on each field.
type Config struct {
	PushURL string // websocket endpoint; empty means polling only
	PollURL string // delta fetch endpoint
	Token   string // auth token, passed as a query parameter

	BaseDelay       time.Duration // first reconnect delay (default 1s)
	MaxDelay        time.Duration // reconnect delay cap (default 30s)
	MaxAttempts     int           // consecutive failures before downgrade (default 5)
	PollInterval    time.Duration // polling period (default 5s)
	ConnectTimeout  time.Duration // websocket handshake budget (default 10s)
	HeartbeatWindow time.Duration // liveness expectation (default 90s)

	HTTPClient *http.Client // used for polling; default http.DefaultClient
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
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.HeartbeatWindow <= 0 {
		c.HeartbeatWindow = 90 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return c
}

// Manager owns exactly one logical connection to the update stream. It is
// caller-owned: construct with New, Start it, and Stop it when done.
type Manager struct {
	cfg Config
	bus *bus

	state stateVar

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	errOnce *sync.Once

	wmMu      sync.Mutex
	watermark time.Time
	lastBeat  time.Time
}

func New(cfg Config) *Manager {
	return &Manager{
		cfg: cfg.withDefaults(),
		bus: newBus(),
	}
}

// Start brings the transport up. It is idempotent: calling it while
// running is a no-op. Without a push endpoint it enters polling directly.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.errOnce = &sync.Once{}

	go m.run(runCtx, cancel, m.done)
	return nil
}

// Stop tears down any open channel and cancels pending timers. It always
// succeeds and is safe to call from any state, any number of times.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// On registers a handler for an event type. Handlers run in registration
// order on the dispatch goroutine; the returned function removes exactly
// this registration.
func (m *Manager) On(t EventType, fn Handler) func() {
	return m.bus.on(t, fn)
}

// State reports the current transport state.
func (m *Manager) State() State {
	return m.state.get()
}

// Healthy reports whether a heartbeat arrived within the configured
// window. A false value is a hint for "reconnecting" indicators, not a
// failure by itself.
func (m *Manager) Healthy() bool {
	m.wmMu.Lock()
	defer m.wmMu.Unlock()
	return !m.lastBeat.IsZero() && time.Since(m.lastBeat) < m.cfg.HeartbeatWindow
}

// Watermark returns the last acknowledged server timestamp.
func (m *Manager) Watermark() time.Time {
	m.wmMu.Lock()
	defer m.wmMu.Unlock()
	return m.watermark
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer m.state.set(StateDisconnected)
	defer func() {
		// A run that exits on its own, e.g. on parent context cancellation,
		// releases the slot so the next Start brings the transport back up.
		cancel()
		m.mu.Lock()
		if m.done == done {
			m.cancel = nil
			m.done = nil
		}
		m.mu.Unlock()
	}()

	if m.cfg.PushURL == "" {
		m.state.set(StatePollingFallback)
		m.pollLoop(ctx)
		return
	}

	attempt := 0
	for {
		if attempt == 0 {
			m.state.set(StateConnecting)
		}

		established, err := m.pushSession(ctx)
		if ctx.Err() != nil {
			return
		}

		if established {
			// A successful connection resets the budget and the delay.
			attempt = 0
		}

		attempt++
		if attempt > m.cfg.MaxAttempts {
			// Exhaustion is a downgrade, not a failure: sync availability
			// outranks transport preference. Only an explicit Start after
			// Stop returns to the push channel.
			zlog.Logger.Warn().Err(err).
				Int("attempts", m.cfg.MaxAttempts).
				Msg("push channel retries exhausted, switching to polling")
			m.state.set(StatePollingFallback)
			m.pollLoop(ctx)
			return
		}

		m.state.set(StateReconnecting)
		delay := BackoffDelay(attempt-1, m.cfg.BaseDelay, m.cfg.MaxDelay)
		zlog.Logger.Debug().Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("push channel reconnect scheduled")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// pushSession dials the push channel and reads it until it drops. The
// returned flag says whether a connection was established at all.
func (m *Manager) pushSession(ctx context.Context) (bool, error) {
	conn, err := DialPush(ctx, m.cfg.PushURL, m.cfg.Token, m.cfg.ConnectTimeout)
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to connect to push channel")
		m.reportOnce(err)
		return false, err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	m.state.set(StateConnected)
	m.bus.emit(Event{Type: EventConnected, Timestamp: time.Now().UTC()})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.bus.emit(Event{Type: EventDisconnected, Timestamp: time.Now().UTC()})
			if ctx.Err() == nil {
				zlog.Logger.Warn().Err(err).Msg("push channel dropped")
			}
			return true, err
		}

		m.handleEnvelope(data)
	}
}

// handleEnvelope decodes one push message. Malformed payloads are logged
// and dropped; they never close the channel or affect other events.
func (m *Manager) handleEnvelope(data []byte) {
	var env model.PushEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		zlog.Logger.Warn().Err(err).Msg("dropping malformed push message")
		return
	}

	switch env.Type {
	case model.PushConnected:
		m.advanceWatermark(env.Timestamp)

	case model.PushHeartbeat:
		m.wmMu.Lock()
		m.lastBeat = time.Now()
		m.wmMu.Unlock()
		m.bus.emit(Event{Type: EventHeartbeat, Timestamp: env.Timestamp})

	case model.PushTaskUpdate:
		if env.Task == nil || env.Task.ID == "" {
			zlog.Logger.Warn().Msg("dropping task update without a task")
			return
		}

		m.advanceWatermark(env.Timestamp)
		m.bus.emit(Event{
			Type:      EventTaskUpdate,
			Timestamp: env.Timestamp,
			Update: &model.TaskUpdateEvent{
				Event:     env.Event,
				Task:      *env.Task,
				Timestamp: env.Timestamp,
			},
		})

	default:
		zlog.Logger.Debug().Str("type", env.Type).Msg("dropping unknown push message")
	}
}

// advanceWatermark moves the acknowledged timestamp forward, never back:
// the next poll must not re-request a window an earlier response covered.
func (m *Manager) advanceWatermark(ts time.Time) {
	if ts.IsZero() {
		return
	}

	m.wmMu.Lock()
	if ts.After(m.watermark) {
		m.watermark = ts
	}
	m.wmMu.Unlock()
}

// reportOnce emits a single error event per Start for observability.
// Retrying continues regardless; errors never propagate to subscribers as
// failures.
func (m *Manager) reportOnce(err error) {
	m.mu.Lock()
	once := m.errOnce
	m.mu.Unlock()

	if once == nil {
		return
	}

	once.Do(func() {
		m.bus.emit(Event{Type: EventError, Timestamp: time.Now().UTC(), Err: err})
	})
}
