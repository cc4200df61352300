package engine

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/zishang520/engine.io-go-parser/packet"
	"github.com/zishang520/engine.io-go-parser/parser"
	"github.com/zishang520/engine.io/v2/types"
)

func wsFrameType(data types.BufferInterface) int {
	if _, ok := data.(*types.StringBuffer); ok {
		return ws.TextMessage
	}
	return ws.BinaryMessage
}

func wsReadPacket(conn *ws.Conn) (*packet.Packet, error) {
	mt, payload, err := conn.ReadMessage()
	if err != nil {
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

func wsWritePacket(t *testing.T, conn *ws.Conn, p *packet.Packet) error {
	t.Helper()
	data, err := parser.Parserv4().EncodePacket(p, true)
	require.NoError(t, err)
	return conn.WriteMessage(wsFrameType(data), data.Bytes())
}

// acceptProbe runs the server side of the upgrade probe (spec.md §4.2):
// expect PING "probe", reply PONG "probe", expect UPGRADE.
func acceptProbe(t *testing.T, conn *ws.Conn) bool {
	t.Helper()
	pkt, err := wsReadPacket(conn)
	if err != nil || pkt.Type != packet.PING || bufferString(pkt.Data) != "probe" {
		return false
	}
	if err := wsWritePacket(t, conn, &packet.Packet{Type: packet.PONG, Data: types.NewStringBufferString("probe")}); err != nil {
		return false
	}
	pkt, err = wsReadPacket(conn)
	return err == nil && pkt.Type == packet.UPGRADE
}

// newUpgradeTestServer serves the polling handshake (advertising a
// websocket upgrade) and, when wsHandler is non-nil, accepts the
// websocket upgrade and runs the probe before handing the connection to
// wsHandler. A nil wsHandler rejects every websocket upgrade attempt
// outright, forcing the caller to stay on polling.
func newUpgradeTestServer(t *testing.T, pingIntervalMS, pingTimeoutMS int, wsHandler func(*testing.T, *ws.Conn)) *httptest.Server {
	t.Helper()
	var getCount atomic.Int32
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("transport") == "websocket" {
			if wsHandler == nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			if !acceptProbe(t, conn) {
				conn.Close()
				return
			}
			wsHandler(t, conn)
			return
		}

		switch r.Method {
		case http.MethodGet:
			switch getCount.Add(1) {
			case 1:
				open := &packet.Packet{Type: packet.OPEN, Data: types.NewStringBufferString(
					encodeOpenBody(t, "abc", []string{"websocket"}, pingIntervalMS, pingTimeoutMS))}
				w.Write(encodePayloadBytes(t, open))
			case 2:
				msg := &packet.Packet{Type: packet.MESSAGE, Data: types.NewStringBufferString("fallback-hi")}
				w.Write(encodePayloadBytes(t, msg))
			default:
				time.Sleep(20 * time.Millisecond)
				w.Write(encodePayloadBytes(t, &packet.Packet{Type: packet.NOOP}))
			}
		case http.MethodPost:
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
		}
	}))
}

// TestUpgradeSucceedsAndDeliversOverWebSocket is spec.md §8 scenario 2.
func TestUpgradeSucceedsAndDeliversOverWebSocket(t *testing.T) {
	srv := newUpgradeTestServer(t, 5000, 5000, func(t *testing.T, conn *ws.Conn) {
		defer conn.Close()
		require.NoError(t, wsWritePacket(t, conn, &packet.Packet{
			Type: packet.MESSAGE, Data: types.NewStringBufferString("hi-over-ws"),
		}))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	client := NewClient(nil)
	received := make(chan any, 1)
	require.NoError(t, client.On(EventMessage, MessageHandler(func(data any) {
		select {
		case received <- data:
		default:
		}
	})))

	require.NoError(t, client.Connect(srv.URL, nil, []string{"polling", "websocket"}, "engine.io"))
	defer client.Disconnect(true)

	require.Equal(t, "websocket", client.Transport())

	select {
	case data := <-received:
		require.Equal(t, "hi-over-ws", data)
	case <-time.After(2 * time.Second):
		t.Fatal("message over websocket never arrived")
	}
}

// TestUpgradeFailureFallsBackToPolling is spec.md §8 scenario 3.
func TestUpgradeFailureFallsBackToPolling(t *testing.T) {
	srv := newUpgradeTestServer(t, 5000, 5000, nil)
	defer srv.Close()

	client := NewClient(nil)
	received := make(chan any, 1)
	require.NoError(t, client.On(EventMessage, MessageHandler(func(data any) {
		select {
		case received <- data:
		default:
		}
	})))

	require.NoError(t, client.Connect(srv.URL, nil, []string{"polling", "websocket"}, "engine.io"))
	defer client.Disconnect(true)

	require.Equal(t, "polling", client.Transport())

	select {
	case data := <-received:
		require.Equal(t, "fallback-hi", data)
	case <-time.After(2 * time.Second):
		t.Fatal("fallback polling message never arrived")
	}
}

// TestLivenessLossOverWebSocketTriggersDisconnect is spec.md §8 scenario 4.
func TestLivenessLossOverWebSocketTriggersDisconnect(t *testing.T) {
	srv := newUpgradeTestServer(t, 40, 40, func(t *testing.T, conn *ws.Conn) {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	client := NewClient(nil)
	disconnected := make(chan error, 1)
	require.NoError(t, client.On(EventDisconnect, DisconnectHandler(func(reason error) {
		select {
		case disconnected <- reason:
		default:
		}
	})))

	require.NoError(t, client.Connect(srv.URL, nil, []string{"polling", "websocket"}, "engine.io"))
	require.Equal(t, "websocket", client.Transport())

	select {
	case reason := <-disconnected:
		require.Error(t, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("liveness loss never triggered a disconnect")
	}
	require.Equal(t, StateDisconnected, client.State())
}
