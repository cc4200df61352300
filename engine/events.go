package engine

import "sync"

var clientEventLog = NewLog("client")

// EventName is one of the three callbacks a host application may
// register (spec.md §6).
type EventName string

const (
	EventConnect    EventName = "connect"
	EventDisconnect EventName = "disconnect"
	EventMessage    EventName = "message"
)

// ConnectHandler is invoked once the session reaches CONNECTED.
type ConnectHandler func()

// DisconnectHandler is invoked exactly once per transition out of
// CONNECTED, whether driven by Disconnect or by a reader/prober fatal
// reset (spec.md §4.7).
type DisconnectHandler func(reason error)

// MessageHandler is invoked for every MESSAGE packet delivered in
// server order (spec.md §4.6). data is a string or a []byte depending
// on whether the packet carried text or binary.
type MessageHandler func(data any)

// eventRegistry stores up to one handler per event name and invokes
// them synchronously, catching and logging any panic so a misbehaving
// host callback never takes down a background activity (spec.md §4.6,
// §7: "Application callback errors: caught and logged; never propagate
// out of the core").
type eventRegistry struct {
	mu           sync.RWMutex
	onConnect    ConnectHandler
	onDisconnect DisconnectHandler
	onMessage    MessageHandler
}

// OnConnect registers the connect callback, replacing any previous one.
func (r *eventRegistry) OnConnect(h ConnectHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = h
}

// OnDisconnect registers the disconnect callback, replacing any previous one.
func (r *eventRegistry) OnDisconnect(h DisconnectHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = h
}

// OnMessage registers the message callback, replacing any previous one.
func (r *eventRegistry) OnMessage(h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMessage = h
}

func (r *eventRegistry) fireConnect() {
	r.mu.RLock()
	h := r.onConnect
	r.mu.RUnlock()
	if h == nil {
		return
	}
	defer recoverHandler("connect")
	h()
}

func (r *eventRegistry) fireDisconnect(reason error) {
	r.mu.RLock()
	h := r.onDisconnect
	r.mu.RUnlock()
	if h == nil {
		return
	}
	defer recoverHandler("disconnect")
	h(reason)
}

func (r *eventRegistry) fireMessage(data any) {
	r.mu.RLock()
	h := r.onMessage
	r.mu.RUnlock()
	if h == nil {
		return
	}
	defer recoverHandler("message")
	h(data)
}

// recoverHandler catches a panicking callback and logs it rather than
// letting it unwind into the reader/writer/prober goroutine that
// invoked it.
func recoverHandler(event string) {
	if r := recover(); r != nil {
		clientEventLog.Errorf("%s handler error: %v", event, r)
	}
}
