package engine

import (
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zishang520/engine.io-go-parser/packet"
	"github.com/zishang520/engine.io/v2/types"
)

var clientLog = NewLog("client")

// Client is an Engine.IO client session (spec.md §3, "Session"). It
// owns exactly one session over its lifetime: Connect establishes it,
// Send enqueues outbound messages, Disconnect tears it down. There is
// no reconnection — a Client is single-use, per spec.md's Non-goals.
type Client struct {
	opts *SocketOptions

	state atomic.Int32

	transportMu sync.RWMutex
	transport   Transport

	sid          string
	upgrades     []string
	pingInterval time.Duration
	pingTimeout  time.Duration

	allowedTransports []string

	outQueue *outboundQueue

	pongPending atomic.Bool

	handlers eventRegistry

	readerWG sync.WaitGroup
	writerWG sync.WaitGroup
	proberWG sync.WaitGroup

	disconnectOnce sync.Once
}

// NewClient creates a Client ready to Connect. opts may be nil, in
// which case DefaultSocketOptions is used.
func NewClient(opts *SocketOptions) *Client {
	if opts == nil {
		opts = DefaultSocketOptions()
	}
	return &Client{opts: opts}
}

// On registers a callback for one of the three events a host
// application may observe. It rejects any other event name, as
// required by spec.md §6.
func (c *Client) On(event EventName, handler any) error {
	switch event {
	case EventConnect:
		h, ok := handler.(ConnectHandler)
		if !ok {
			return fmt.Errorf("engine: connect handler must be engine.ConnectHandler")
		}
		c.handlers.OnConnect(h)
	case EventDisconnect:
		h, ok := handler.(DisconnectHandler)
		if !ok {
			return fmt.Errorf("engine: disconnect handler must be engine.DisconnectHandler")
		}
		c.handlers.OnDisconnect(h)
	case EventMessage:
		h, ok := handler.(MessageHandler)
		if !ok {
			return fmt.Errorf("engine: message handler must be engine.MessageHandler")
		}
		c.handlers.OnMessage(h)
	default:
		return fmt.Errorf("engine: invalid event %q", event)
	}
	return nil
}

// State returns the session's current lifecycle state.
func (c *Client) State() SessionState {
	return SessionState(c.state.Load())
}

func (c *Client) setState(s SessionState) {
	c.state.Store(int32(s))
}

// Transport returns the name of the transport currently in use, or ""
// before the session connects.
func (c *Client) Transport() string {
	c.transportMu.RLock()
	defer c.transportMu.RUnlock()
	if c.transport == nil {
		return ""
	}
	return c.transport.Name()
}

func (c *Client) activeTransport() Transport {
	c.transportMu.RLock()
	defer c.transportMu.RUnlock()
	return c.transport
}

func (c *Client) setTransport(t Transport) {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()
	c.transport = t
}

// Connect establishes a session against url (spec.md §4.1). headers are
// sent with the handshake request (the polling GET or the websocket
// dial, including the upgrade dial); the later polling GET and POST
// requests do not carry them. transports is the
// application's allowed transport list in priority order (first entry
// is attempted first); path is the Engine.IO endpoint path
// (default-ish "engine.io").
func (c *Client) Connect(rawURL string, headers RequestHeaders, allowedTransports []string, path string) error {
	if c.State() != StateDisconnected {
		return ErrAlreadyConnected
	}

	valid := make([]string, 0, 2)
	for _, t := range allowedTransports {
		if t == transportPolling || t == transportWebSocket {
			valid = append(valid, t)
		}
	}
	if len(allowedTransports) == 0 {
		valid = []string{transportPolling, transportWebSocket}
	} else if len(valid) == 0 {
		return ErrNoValidTransports
	}
	c.allowedTransports = valid

	target, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	c.outQueue = newOutboundQueue()

	if valid[0] == transportWebSocket {
		// WebSocket direct connect (spec.md §4.1: "WebSocket direct
		// connect"): polling is skipped entirely.
		return c.connectWebSocketDirect(target, path, headers)
	}
	return c.connectPolling(target, path, headers)
}

// connectPolling runs the polling handshake and, if the server and
// caller both allow it, attempts an upgrade to websocket before
// starting the polling background activities (spec.md §4.1).
func (c *Client) connectPolling(target *url.URL, path string, headers RequestHeaders) error {
	pt := newPollingTransport(target, path, c.opts)
	clientLog.Debug("attempting polling connection")

	descriptor, err := pt.Open(headers)
	if err != nil {
		return err
	}

	c.sid = descriptor.Sid
	c.upgrades = descriptor.Upgrades
	c.pingInterval = descriptor.PingInterval
	c.pingTimeout = descriptor.PingTimeout
	c.setTransport(pt)
	c.setState(StateConnected)
	connectedClients.add(c)
	c.handlers.fireConnect()

	if contains(c.allowedTransports, transportWebSocket) {
		if c.attemptUpgrade(target, path, headers) {
			// Upgrade succeeded: the polling reader/writer/prober are
			// never started (spec.md §4.1).
			return nil
		}
	}

	c.startActivities()
	return nil
}

// connectWebSocketDirect runs §4.2's direct-connect path when the
// application's first allowed transport is websocket.
func (c *Client) connectWebSocketDirect(target *url.URL, path string, headers RequestHeaders) error {
	wt := newWebSocketTransport(target, path, c.opts)
	clientLog.Debug("attempting direct websocket connection")

	descriptor, err := wt.Open(headers)
	if err != nil {
		return err
	}

	c.sid = descriptor.Sid
	c.upgrades = descriptor.Upgrades
	c.pingInterval = descriptor.PingInterval
	c.pingTimeout = descriptor.PingTimeout
	c.setTransport(wt)
	c.setState(StateConnected)
	connectedClients.add(c)
	c.handlers.fireConnect()

	c.startActivities()
	return nil
}

// attemptUpgrade runs the websocket upgrade probe (spec.md §4.2) while
// the session is still on polling. On success it swaps the active
// transport and returns true; on failure the polling session is left
// untouched and false is returned so the caller falls back to polling.
func (c *Client) attemptUpgrade(target *url.URL, path string, headers RequestHeaders) bool {
	clientLog.Debug("attempting websocket upgrade")
	wt := newWebSocketTransport(target, path, c.opts)
	if !wt.Probe(c.sid, headers) {
		return false
	}
	c.setTransport(wt)
	clientLog.Debug("websocket upgrade succeeded")
	c.startActivities()
	return true
}

// startActivities launches the reader, writer, and prober bound to
// whatever transport is currently active (spec.md §3: "exactly one
// reader, at most one writer, and at most one prober... started only
// after the session reaches CONNECTED").
func (c *Client) startActivities() {
	c.pongPending.Store(false)

	c.writerWG.Add(1)
	go c.writeLoop()

	c.proberWG.Add(1)
	go c.probeLoop()

	c.readerWG.Add(1)
	go c.readLoop()
}

// Send enqueues an application message (spec.md §4.7's sibling
// operation, spec.md §6: "send(data, binary?)"). It is a no-op once the
// session has left CONNECTED.
func (c *Client) Send(data any, binary bool) {
	if c.State() != StateConnected {
		return
	}
	c.enqueue(&packet.Packet{Type: packet.MESSAGE, Data: dataToBuffer(data, binary)})
}

func (c *Client) enqueue(p *packet.Packet) {
	if c.State() != StateConnected {
		return
	}
	c.outQueue.pushPacket(p)
	clientLog.Debug("sending packet %s", packetTypeName(p.Type))
}

func dataToBuffer(data any, binary bool) types.BufferInterface {
	switch v := data.(type) {
	case []byte:
		return types.NewBytesBuffer(v)
	case string:
		if binary {
			return types.NewBytesBuffer([]byte(v))
		}
		return types.NewStringBufferString(v)
	default:
		return types.NewStringBufferString(fmt.Sprint(v))
	}
}

// Wait blocks until the reader terminates (spec.md §6: "wait()").
func (c *Client) Wait() {
	c.readerWG.Wait()
}

// Disconnect tears the session down (spec.md §4.7). abort=true skips
// every join, for use from a signal handler about to exit the process.
func (c *Client) Disconnect(abort bool) {
	if c.State() != StateConnected {
		c.setState(StateDisconnected)
		return
	}

	c.enqueue(&packet.Packet{Type: packet.CLOSE})
	c.outQueue.pushSentinel()
	c.setState(StateDisconnecting)

	if !abort {
		c.outQueue.join()
	}

	if c.Transport() == transportWebSocket {
		if t := c.activeTransport(); t != nil {
			_ = t.Close()
		}
	}

	if !abort {
		c.readerWG.Wait()
	}

	c.setState(StateDisconnected)
	connectedClients.remove(c)
	c.fireDisconnectOnce(nil)
}

// fireDisconnectOnce invokes the disconnect callback exactly once per
// CONNECTED-exit (spec.md §4.7, §7): whichever of Disconnect or a
// reader/prober fatal reset gets there first wins, the other is a
// no-op. A Client only ever makes this transition once (see
// SPEC_FULL.md §9), so a single sync.Once suffices.
func (c *Client) fireDisconnectOnce(reason error) {
	c.disconnectOnce.Do(func() {
		c.handlers.fireDisconnect(reason)
	})
}

// resetOnError is the shared fatal-path cleanup used by the reader,
// writer, and prober (spec.md §7, "Transport errors during a live
// session"): log, wake the writer, reset to DISCONNECTED, and fire the
// disconnect callback exactly once. It never sends CLOSE or waits for
// drains — that's what distinguishes it from a graceful Disconnect.
func (c *Client) resetOnError(reason error) {
	c.outQueue.pushSentinel()
	c.setState(StateDisconnected)
	connectedClients.remove(c)
	c.fireDisconnectOnce(reason)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// readLoop is the reader activity (spec.md §4.4).
func (c *Client) readLoop() {
	defer c.readerWG.Done()

	for c.State() == StateConnected {
		packets, err := c.activeTransport().Recv()
		if err != nil {
			clientLog.Debug("read loop error, aborting: %v", err)
			c.resetOnError(err)
			break
		}
		for _, p := range packets {
			c.dispatch(p)
		}
	}

	if c.State() == StateConnected {
		c.Disconnect(false)
	}
	clientLog.Debug("waiting for writer to end")
	c.writerWG.Wait()
}

// writeLoop is the writer activity (spec.md §4.3).
func (c *Client) writeLoop() {
	defer c.writerWG.Done()

	for c.State() == StateConnected {
		batch, terminate := c.collectBatch()
		if terminate {
			break
		}
		if len(batch) == 0 {
			break
		}

		if err := c.activeTransport().Send(batch); err != nil {
			clientLog.Debug("write loop error, aborting: %v", err)
			c.resetOnError(err)
			break
		}
	}
}

// collectBatch implements spec.md §4.3 steps 1-3: block for the first
// item (timing out after ping_timeout), then opportunistically drain
// whatever else is already queued into the same batch.
func (c *Client) collectBatch() (batch []*packet.Packet, terminate bool) {
	first, ok := c.outQueue.popWait(c.pingTimeout)
	if !ok {
		clientLog.Errorf("%v", ErrQueueEmpty)
		return nil, true
	}
	c.outQueue.ack()
	if first.sentinel {
		return nil, true
	}
	batch = append(batch, first.packet)

	for {
		item, ok := c.outQueue.pop()
		if !ok {
			break
		}
		c.outQueue.ack()
		if item.sentinel {
			break
		}
		batch = append(batch, item.packet)
	}
	return batch, false
}

// probeLoop is the liveness prober activity (spec.md §4.5).
func (c *Client) probeLoop() {
	defer c.proberWG.Done()

	c.pongPending.Store(false)

	for c.State() == StateConnected {
		if c.pongPending.Load() {
			clientLog.Debug("PONG response has not been received, aborting")
			if c.Transport() == transportWebSocket {
				if t := c.activeTransport(); t != nil {
					_ = t.Close()
				}
			}
			c.resetOnError(NewTransportError("liveness lost", fmt.Errorf("PONG not received within ping interval"), nil).Err())
			return
		}

		c.pongPending.Store(true)
		c.enqueue(&packet.Packet{Type: packet.PING})

		time.Sleep(c.pingInterval)
	}
}

// dispatch delivers one decoded inbound packet (spec.md §4.6).
func (c *Client) dispatch(p *packet.Packet) {
	switch p.Type {
	case packet.MESSAGE:
		c.handlers.fireMessage(readPacketData(p))
	case packet.PONG:
		c.pongPending.Store(false)
	case packet.NOOP:
		// ignored
	default:
		clientLog.Errorf("received unexpected packet of type %s", packetTypeName(p.Type))
	}
}

func readPacketData(p *packet.Packet) any {
	if p.Data == nil {
		return nil
	}
	if _, ok := p.Data.(*types.StringBuffer); ok {
		return p.Data.String()
	}
	return p.Data.Bytes()
}
