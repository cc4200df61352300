package engine

import (
	"context"
	"errors"
)

// Error carries additional context around a failure detected by a
// transport: a human message, the underlying cause, a category, and
// whatever request/response context was in flight.
type Error struct {
	// Message is a human-readable description of the error.
	Message string

	// Description contains the underlying error that caused this error.
	Description error

	// Type identifies the category of the error (e.g. "TransportError").
	Type string

	// Context carries request/response or timing context, when available.
	Context context.Context

	errs []error
}

// Err returns the error interface implementation.
func (e *Error) Err() error {
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description != nil {
		return e.Message + ": " + e.Description.Error()
	}
	return e.Message
}

// Unwrap supports errors.Is/As against the underlying cause.
func (e *Error) Unwrap() []error {
	return e.errs
}

// NewTransportError builds an *Error describing a failure detected by a
// transport while a session is live, as opposed to a setup failure
// surfaced synchronously from Connect.
func NewTransportError(reason string, description error, ctx context.Context) *Error {
	return &Error{
		Message:     reason,
		Description: description,
		Type:        "TransportError",
		Context:     ctx,
		errs:        []error{description},
	}
}

// Setup errors surfaced synchronously from Connect (spec.md §4.1, §6).
var (
	// ErrAlreadyConnected is returned when Connect is called while the
	// session is not in the DISCONNECTED state.
	ErrAlreadyConnected = errors.New("engine: client is not in a disconnected state")

	// ErrNoValidTransports is returned when the caller's allowed
	// transports list has no intersection with {polling, websocket}.
	ErrNoValidTransports = errors.New("engine: no valid transports provided")

	// ErrConnectionRefused is returned when the initial HTTP request or
	// WebSocket dial is refused by the server.
	ErrConnectionRefused = errors.New("engine: connection refused by the server")

	// ErrUnexpectedStatus is returned when the handshake HTTP response
	// does not carry status 200.
	ErrUnexpectedStatus = errors.New("engine: unexpected status code in server response")

	// ErrMalformedResponse is returned when the handshake response body
	// cannot be decoded as an Engine.IO payload.
	ErrMalformedResponse = errors.New("engine: unexpected response from server")

	// ErrNoOpenPacket is returned when a decodable handshake response
	// contains no OPEN packet.
	ErrNoOpenPacket = errors.New("engine: OPEN packet not returned by server")

	// ErrQueueEmpty is the internal protocol-invariant violation
	// described in spec.md §4.3: the writer's wait on the outbound queue
	// elapsed with nothing enqueued, meaning the prober failed to emit a
	// PING within ping_timeout. It only ever surfaces through logs; by
	// the time it would be returned to a caller the writer has already
	// terminated.
	ErrQueueEmpty = errors.New("engine: outbound queue invariant violated: no packet enqueued within ping timeout")
)
