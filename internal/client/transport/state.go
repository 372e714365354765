package transport

import "sync/atomic"

// State enumerates the transport lifecycle. polling_fallback is terminal
// for the push path but sync keeps flowing over the poll endpoint.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StatePollingFallback
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StatePollingFallback:
		return "polling_fallback"
	default:
		return "unknown"
	}
}

// stateVar is an atomically updated State usable from any goroutine.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) get() State     { return State(s.v.Load()) }
func (s *stateVar) set(next State) { s.v.Store(int32(next)) }
