package engine

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	ws "github.com/gorilla/websocket"
	"github.com/zishang520/engine.io-go-parser/packet"
	"github.com/zishang520/engine.io-go-parser/parser"
	"github.com/zishang520/engine.io/v2/types"
)

var clientWebSocketLog = NewLog("websocket")

// errConnClosed is returned when a send or receive races Close(): the
// writer or reader found t.conn already nilled out from under it, rather
// than observing a connection-level read/write error.
var errConnClosed = errors.New("engine: websocket connection already closed")

// webSocketTransport implements Transport over a single WebSocket
// connection (spec.md §4.2, §6): one packet per frame, no payload
// batching needed since each frame is already its own message boundary.
type webSocketTransport struct {
	dialer *ws.Dialer
	opts   *SocketOptions
	base   *url.URL
	path   string

	mu   sync.Mutex
	conn *ws.Conn
}

func newWebSocketTransport(target *url.URL, path string, opts *SocketOptions) *webSocketTransport {
	return &webSocketTransport{
		dialer: &ws.Dialer{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: opts.TLSClientConfig,
		},
		opts: opts,
		base: target,
		path: path,
	}
}

func (t *webSocketTransport) Name() string { return transportWebSocket }

func (t *webSocketTransport) url(sid string) string {
	u := buildTransportURL(t.base, t.path, transportWebSocket, true)
	if sid != "" {
		u += "&sid=" + sid
	}
	return u
}

func (t *webSocketTransport) dial(target string, extraHeaders RequestHeaders) error {
	headers := http.Header(mergeHeaders(t.opts.ExtraHeaders, extraHeaders))
	conn, _, err := t.dialer.Dial(target, headers)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Open performs a direct WebSocket connect (spec.md §4.2, "Direct
// connect"): dial with no prior sid, then require the first frame to
// be an OPEN packet.
func (t *webSocketTransport) Open(extraHeaders RequestHeaders) (*OpenDescriptor, error) {
	if err := t.dial(t.url(""), extraHeaders); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionRefused, err)
	}

	pkt, err := t.recvOnePacket()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if pkt.Type != packet.OPEN {
		return nil, ErrNoOpenPacket
	}
	descriptor, err := decodeOpenDescriptor(pkt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return descriptor, nil
}

// Probe performs the upgrade probe (spec.md §4.2, "Upgrade probe"): a
// PING/PONG "probe" exchange followed by an UPGRADE packet. It reports
// success/failure rather than an error, since a failed probe is
// expected to fall back to polling, not abort the session.
func (t *webSocketTransport) Probe(sid string, extraHeaders RequestHeaders) bool {
	if err := t.dial(t.url(sid), extraHeaders); err != nil {
		clientWebSocketLog.Debug("upgrade dial failed: %v", err)
		return false
	}

	if err := t.sendOnePacket(&packet.Packet{
		Type: packet.PING,
		Data: types.NewStringBufferString("probe"),
	}); err != nil {
		clientWebSocketLog.Debug("upgrade probe PING failed: %v", err)
		t.Close()
		return false
	}

	pkt, err := t.recvOnePacket()
	if err != nil {
		clientWebSocketLog.Debug("upgrade probe receive failed: %v", err)
		t.Close()
		return false
	}
	if pkt.Type != packet.PONG || bufferString(pkt.Data) != "probe" {
		clientWebSocketLog.Debug("upgrade probe failed: unexpected reply")
		t.Close()
		return false
	}

	if err := t.sendOnePacket(&packet.Packet{Type: packet.UPGRADE}); err != nil {
		clientWebSocketLog.Debug("upgrade UPGRADE send failed: %v", err)
		t.Close()
		return false
	}
	return true
}

func (t *webSocketTransport) sendOnePacket(p *packet.Packet) error {
	data, err := parser.Parserv4().EncodePacket(p, !t.opts.ForceBase64)
	if err != nil {
		return err
	}
	mt := ws.BinaryMessage
	if _, ok := data.(*types.StringBuffer); ok {
		mt = ws.TextMessage
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return NewTransportError("websocket connection closed", errConnClosed, nil).Err()
	}
	return conn.WriteMessage(mt, data.Bytes())
}

func (t *webSocketTransport) recvOnePacket() (*packet.Packet, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, NewTransportError("websocket connection closed", errConnClosed, nil).Err()
	}

	mt, payload, err := conn.ReadMessage()
	if err != nil {
		if ws.IsUnexpectedCloseError(err) || errors.Is(err, ws.ErrCloseSent) {
			return nil, NewTransportError("websocket connection closed", err, nil).Err()
		}
		return nil, err
	}

	var buf types.BufferInterface
	if mt == ws.BinaryMessage {
		buf = types.NewBytesBuffer(payload)
	} else {
		buf = types.NewStringBuffer(payload)
	}
	return parser.Parserv4().DecodePacket(buf)
}

// Send writes each packet as one frame (spec.md §4.3: "send each packet
// as one frame").
func (t *webSocketTransport) Send(packets []*packet.Packet) error {
	for _, p := range packets {
		if err := t.sendOnePacket(p); err != nil {
			return NewTransportError("websocket write error", err, nil).Err()
		}
	}
	return nil
}

// Recv blocks for one frame and decodes it into a single-element slice,
// so the reader loop can treat polling and websocket uniformly.
func (t *webSocketTransport) Recv() ([]*packet.Packet, error) {
	pkt, err := t.recvOnePacket()
	if err != nil {
		return nil, err
	}
	return []*packet.Packet{pkt}, nil
}

// Close closes the underlying connection. Safe to call more than once.
func (t *webSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func bufferString(b types.BufferInterface) string {
	if b == nil {
		return ""
	}
	return string(b.Bytes())
}
