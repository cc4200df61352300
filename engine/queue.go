package engine

import (
	"sync"
	"time"

	"github.com/zishang520/engine.io-go-parser/packet"
)

var clientQueueLog = NewLog("queue")

// outboundItem is either a queued packet or the sentinel value that
// tells the writer to terminate (spec.md §3: "Packet or sentinel ⊥").
type outboundItem struct {
	packet   *packet.Packet
	sentinel bool
}

// outboundQueue is the session's outbound FIFO (spec.md §5): a
// thread-safe queue with a blocking-with-timeout take, a non-blocking
// take, and a task-done/join facility so disconnect(abort=false) can
// wait until every enqueued item has been pulled off the queue. This is
// the direct Go analogue of original_source's queue.Queue — no corpus
// dependency provides a blocking FIFO with join semantics, so it is
// hand-rolled from sync primitives and channels (see DESIGN.md).
type outboundQueue struct {
	mu     sync.Mutex
	items  []outboundItem
	notify chan struct{}
	wg     sync.WaitGroup
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{notify: make(chan struct{}, 1)}
}

// push appends an item and wakes any blocked popWait.
func (q *outboundQueue) push(item outboundItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.wg.Add(1)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pushPacket enqueues a packet for the writer.
func (q *outboundQueue) pushPacket(p *packet.Packet) {
	q.push(outboundItem{packet: p})
}

// pushSentinel enqueues the terminal ⊥ marker, waking the writer even
// if the session already moved past CONNECTED.
func (q *outboundQueue) pushSentinel() {
	q.push(outboundItem{sentinel: true})
}

// pop removes and returns the head item without blocking.
func (q *outboundQueue) pop() (outboundItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return outboundItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// popWait blocks for up to timeout for an item, returning ok=false if
// the wait elapses with nothing enqueued — the condition spec.md §4.3
// step 1 calls a protocol-level invariant violation.
func (q *outboundQueue) popWait(timeout time.Duration) (outboundItem, bool) {
	if item, ok := q.pop(); ok {
		return item, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			// A notification can be left over from an item that was
			// already taken by pop; keep waiting in that case.
			if item, ok := q.pop(); ok {
				return item, true
			}
		case <-timer.C:
			return outboundItem{}, false
		}
	}
}

// ack marks one previously-popped item as processed. Every item pulled
// off the queue — packet or sentinel — is acknowledged immediately at
// dequeue time; see SPEC_FULL.md §4 for why this departs from
// original_source's per-transport-asymmetric task_done() calls.
func (q *outboundQueue) ack() {
	q.wg.Done()
}

// join blocks until every pushed item has been popped and acknowledged.
func (q *outboundQueue) join() {
	q.wg.Wait()
}
