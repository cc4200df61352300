package engine

import "github.com/zishang520/engine.io/v2/transports"

// SessionState is the Client's lifecycle state (spec.md §3). Reachable
// transitions are monotone per session: DISCONNECTED → CONNECTED →
// DISCONNECTING → DISCONNECTED, never backwards, since a Client never
// reconnects (spec.md Non-goals).
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnected
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Transport name constants, reused from the corpus's own Engine.IO
// package rather than redeclared as fresh string literals.
const (
	transportPolling   = transports.POLLING
	transportWebSocket = transports.WEBSOCKET
)
