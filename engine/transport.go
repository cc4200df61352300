package engine

import (
	"net/url"
	"strings"

	"github.com/zishang520/engine.io-go-parser/packet"
)

var clientTransportLog = NewLog("transport")

// Transport is the capability set the session drives: open a session or
// upgrade an existing one, send a batch of packets, receive the next
// batch, and close. Both concrete transports — polling and websocket —
// implement this single interface, so the reader and writer loops in
// client.go never need to branch on transport type (spec.md §9).
type Transport interface {
	// Name returns the transport's wire name ("polling" or "websocket").
	Name() string

	// Open performs the transport-specific handshake that establishes a
	// brand new session: polling's initial GET, or websocket's direct
	// connect-and-receive-OPEN. It returns the server's handshake
	// descriptor.
	Open(extraHeaders RequestHeaders) (*OpenDescriptor, error)

	// Send hands a batch of already-ordered packets to the transport.
	// For polling this is one payload-encoded POST; for websocket this
	// is one frame per packet.
	Send(packets []*packet.Packet) error

	// Recv blocks for the next unit of inbound data and returns every
	// packet decoded from it: the full payload for polling, a single
	// frame's packet for websocket.
	Recv() ([]*packet.Packet, error)

	// Close releases the transport's underlying connection. Safe to
	// call more than once.
	Close() error
}

// RequestHeaders is the minimal header carrier the session passes to a
// transport; both net/http and gorilla/websocket accept it directly.
type RequestHeaders = map[string][]string

// buildTransportURL constructs the transport URL per spec.md §4.1:
//
//	scheme://netloc/path/?query&transport=<name>&EIO=3
//
// scheme is derived from the input URL's scheme (http/https for
// polling, ws/wss for websocket); path is the endpoint path stripped of
// leading/trailing slashes; the input's query string is preserved, with
// "&" inserted only if it was non-empty.
func buildTransportURL(base *url.URL, path, transportName string, websocket bool) string {
	scheme := "http"
	if websocket {
		scheme = "ws"
	}
	if isSecureScheme(base.Scheme) {
		scheme += "s"
	}

	trimmedPath := strings.Trim(path, "/")

	sep := ""
	if base.RawQuery != "" {
		sep = "&"
	}

	return scheme + "://" + base.Host + "/" + trimmedPath + "/?" + base.RawQuery + sep +
		"transport=" + transportName + "&EIO=3"
}

// isSecureScheme reports whether the input URL's scheme indicates TLS
// (https/wss); this is what upgrades both polling (http→https) and
// websocket (ws→wss) schemes together.
func isSecureScheme(scheme string) bool {
	return scheme == "https" || scheme == "wss"
}
