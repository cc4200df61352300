package engine

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zishang520/engine.io-go-parser/packet"
	"github.com/zishang520/engine.io-go-parser/parser"
	"github.com/zishang520/engine.io/v2/types"
)

func encodeOpenBody(t *testing.T, sid string, upgrades []string, pingInterval, pingTimeout int) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"sid":          sid,
		"upgrades":     upgrades,
		"pingInterval": pingInterval,
		"pingTimeout":  pingTimeout,
	})
	require.NoError(t, err)
	return string(b)
}

func encodePayloadBytes(t *testing.T, packets ...*packet.Packet) []byte {
	t.Helper()
	data, err := parser.Parserv4().EncodePayload(packets)
	require.NoError(t, err)
	return data.Bytes()
}

// TestEndToEndPollingConnectAndReceive is spec.md §8 scenario 1.
func TestEndToEndPollingConnectAndReceive(t *testing.T) {
	var getCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		switch getCount.Add(1) {
		case 1:
			open := &packet.Packet{Type: packet.OPEN, Data: types.NewStringBufferString(
				encodeOpenBody(t, "abc", nil, 25000, 5000))}
			w.Write(encodePayloadBytes(t, open))
		case 2:
			msg := &packet.Packet{Type: packet.MESSAGE, Data: types.NewStringBufferString("hi")}
			w.Write(encodePayloadBytes(t, msg))
		default:
			time.Sleep(20 * time.Millisecond)
			w.Write(encodePayloadBytes(t, &packet.Packet{Type: packet.NOOP}))
		}
	}))
	defer srv.Close()

	client := NewClient(nil)
	received := make(chan any, 1)
	require.NoError(t, client.On(EventMessage, MessageHandler(func(data any) {
		select {
		case received <- data:
		default:
		}
	})))

	require.NoError(t, client.Connect(srv.URL, nil, []string{"polling"}, "engine.io"))
	defer client.Disconnect(true)

	select {
	case data := <-received:
		require.Equal(t, "hi", data)
	case <-time.After(2 * time.Second):
		t.Fatal("message callback never fired")
	}

	require.Equal(t, "polling", client.Transport())
	require.Equal(t, 25*time.Second, client.pingInterval)
}

// TestConnectWhileConnectedFails is spec.md §8's first boundary behavior.
func TestConnectWhileConnectedFails(t *testing.T) {
	var getCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if getCount.Add(1) == 1 {
			open := &packet.Packet{Type: packet.OPEN, Data: types.NewStringBufferString(
				encodeOpenBody(t, "abc", nil, 25000, 5000))}
			w.Write(encodePayloadBytes(t, open))
			return
		}
		time.Sleep(20 * time.Millisecond)
		w.Write(encodePayloadBytes(t, &packet.Packet{Type: packet.NOOP}))
	}))
	defer srv.Close()

	client := NewClient(nil)
	require.NoError(t, client.Connect(srv.URL, nil, []string{"polling"}, "engine.io"))
	defer client.Disconnect(true)

	err := client.Connect(srv.URL, nil, []string{"polling"}, "engine.io")
	require.ErrorIs(t, err, ErrAlreadyConnected)
	require.Equal(t, StateConnected, client.State())
}

// TestDisconnectWhileDisconnectedIsNoOp is spec.md §8's second boundary behavior.
func TestDisconnectWhileDisconnectedIsNoOp(t *testing.T) {
	client := NewClient(nil)
	require.Equal(t, StateDisconnected, client.State())
	client.Disconnect(false)
	require.Equal(t, StateDisconnected, client.State())
}

// TestUnexpectedStatusNeverConnects is spec.md §8's third boundary behavior.
func TestUnexpectedStatusNeverConnects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(nil)
	var disconnectFired atomic.Bool
	require.NoError(t, client.On(EventDisconnect, DisconnectHandler(func(error) {
		disconnectFired.Store(true)
	})))

	err := client.Connect(srv.URL, nil, []string{"polling"}, "engine.io")
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	require.Equal(t, StateDisconnected, client.State())
	require.False(t, disconnectFired.Load())
}

// TestConnectRejectsInvalidTransportList covers the NoValidTransports setup error.
func TestConnectRejectsInvalidTransportList(t *testing.T) {
	client := NewClient(nil)
	err := client.Connect("http://127.0.0.1:1", nil, []string{"carrier-pigeon"}, "engine.io")
	require.ErrorIs(t, err, ErrNoValidTransports)
}

// TestGracefulDisconnectPreservesFIFOOrder is spec.md §8 scenario 5: messages
// enqueued by the application reach the server in enqueue order, CLOSE last.
// The prober's PING packets are interleaved by design and are not recorded.
func TestGracefulDisconnectPreservesFIFOOrder(t *testing.T) {
	var getCount atomic.Int32
	seen := make(chan *packet.Packet, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if getCount.Add(1) == 1 {
				open := &packet.Packet{Type: packet.OPEN, Data: types.NewStringBufferString(
					encodeOpenBody(t, "abc", nil, 25000, 5000))}
				w.Write(encodePayloadBytes(t, open))
				return
			}
			time.Sleep(20 * time.Millisecond)
			w.Write(encodePayloadBytes(t, &packet.Packet{Type: packet.NOOP}))
		case http.MethodPost:
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			pkts, err := parser.Parserv4().DecodePayload(types.NewStringBuffer(body))
			require.NoError(t, err)
			for _, p := range pkts {
				if p.Type == packet.PING {
					continue
				}
				seen <- p
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client := NewClient(nil)
	require.NoError(t, client.Connect(srv.URL, nil, []string{"polling"}, "engine.io"))

	client.Send("a", false)
	client.Send("b", false)
	client.Disconnect(false)

	var gotTypes []packet.PacketType
	var gotData []string
	for len(gotTypes) < 3 {
		select {
		case p := <-seen:
			gotTypes = append(gotTypes, p.Type)
			if p.Type == packet.MESSAGE {
				d, _ := io.ReadAll(p.Data)
				gotData = append(gotData, string(d))
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for packets, got %v so far", gotTypes)
		}
	}

	require.Equal(t, []packet.PacketType{packet.MESSAGE, packet.MESSAGE, packet.CLOSE}, gotTypes)
	require.Equal(t, []string{"a", "b"}, gotData)
}

// TestAbortDisconnectReturnsImmediately is spec.md §8 scenario 6.
func TestAbortDisconnectReturnsImmediately(t *testing.T) {
	var getCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			time.Sleep(300 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
			return
		}
		if getCount.Add(1) == 1 {
			open := &packet.Packet{Type: packet.OPEN, Data: types.NewStringBufferString(
				encodeOpenBody(t, "abc", nil, 25000, 5000))}
			w.Write(encodePayloadBytes(t, open))
			return
		}
		time.Sleep(300 * time.Millisecond)
		w.Write(encodePayloadBytes(t, &packet.Packet{Type: packet.NOOP}))
	}))
	defer srv.Close()

	client := NewClient(nil)
	require.NoError(t, client.Connect(srv.URL, nil, []string{"polling"}, "engine.io"))

	client.Send("a", false)

	start := time.Now()
	client.Disconnect(true)
	require.Less(t, time.Since(start), 150*time.Millisecond)
	require.Equal(t, StateDisconnected, client.State())
}
