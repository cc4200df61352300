package engine

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var clientRegistryLog = NewLog("registry")

// registry is the process-wide list of CONNECTED clients (spec.md §5,
// "Process-wide state"), guarded by a mutex rather than relying on any
// corpus concurrency dependency — a single mutex-protected map used as a
// set is the whole of what's needed here.
type registry struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
}

var connectedClients = &registry{clients: make(map[*Client]struct{})}

func (r *registry) add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
}

func (r *registry) remove(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
}

func (r *registry) snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

var installSignalHandlerOnce sync.Once

// InstallSignalHandler registers a process-wide SIGINT handler that
// walks every currently CONNECTED client and calls Disconnect(true) on
// it (spec.md §5, §9), then restores the default SIGINT disposition and
// re-raises the signal so the process still terminates the way it
// would have without this package involved.
//
// Unlike original_source, which installs its handler unconditionally at
// import time, this is an explicit opt-in the host calls once from
// main() — see SPEC_FULL.md §9 for why. Calling it more than once is a
// no-op.
func InstallSignalHandler() {
	installSignalHandlerOnce.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)

		go func() {
			<-sigCh
			for _, c := range connectedClients.snapshot() {
				c.Disconnect(true)
			}
			clientRegistryLog.Debug("disconnected all sessions on SIGINT, re-raising")
			signal.Stop(sigCh)
			signal.Reset(os.Interrupt)
			_ = syscall.Kill(syscall.Getpid(), syscall.SIGINT)
		}()
	})
}
