package engine

import (
	"crypto/tls"
	"time"
)

// SocketOptions configures the HTTP/WebSocket behavior shared by both
// transports — the ambient configuration surface a production client
// carries alongside the protocol state machine, modeled on the
// teacher's SocketOptionsInterface but trimmed to what a client
// transport actually reads.
type SocketOptions struct {
	// RequestTimeout bounds every individual polling GET/POST. Zero
	// means no timeout beyond what resty.dev's client applies by
	// default.
	RequestTimeout time.Duration

	// TLSClientConfig is passed through to both the HTTP client and the
	// WebSocket dialer.
	TLSClientConfig *tls.Config

	// ExtraHeaders are sent, in addition to whatever Connect's headers
	// argument supplies, with the polling handshake GET and with every
	// websocket dial. The polling transport's later GET and POST
	// requests do not carry them.
	ExtraHeaders RequestHeaders

	// TimestampParam is the query parameter name used for the
	// cache-busting timestamp on polling requests (spec.md §4.1, §6).
	// Defaults to "t".
	TimestampParam string

	// ForceBase64, when true, makes the websocket transport encode
	// outbound binary packets as base64 text frames instead of binary
	// frames. No b64=1 query parameter is sent, and the polling
	// transport does not read this field.
	ForceBase64 bool
}

// DefaultSocketOptions returns the options a Client uses when none are
// supplied explicitly.
func DefaultSocketOptions() *SocketOptions {
	return &SocketOptions{
		RequestTimeout: 20 * time.Second,
		TimestampParam: "t",
	}
}

func (o *SocketOptions) timestampParam() string {
	if o == nil || o.TimestampParam == "" {
		return "t"
	}
	return o.TimestampParam
}
