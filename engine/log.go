// Package engine implements the client side of the Engine.IO transport
// protocol: session negotiation, polling/websocket transports, and the
// concurrent reader/writer/prober discipline that keeps a session alive.
package engine

import "github.com/zishang520/engine.io/v2/log"

// Log is a thin front-end over the shared leveled logger, kept so that
// call sites read as Debug/Error/Warning regardless of which concern
// (client, polling, websocket, queue) is logging.
type Log struct {
	*log.Log
}

// NewLog creates a logger tagged with prefix, e.g. "client", "polling".
func NewLog(prefix string) *Log {
	return &Log{Log: log.NewLog(prefix)}
}

func (l *Log) Debugf(message string, args ...any) {
	l.Debug(message, args...)
}

func (l *Log) Errorf(message string, args ...any) {
	l.Error(message, args...)
}

func (l *Log) Warnf(message string, args ...any) {
	l.Warning(message, args...)
}
