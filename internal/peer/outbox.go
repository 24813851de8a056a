package peer

import (
	"sync"
	"sync/atomic"

	"github.com/ponswarp/ponswarp-signaling/internal/protocol"
)

// Outbox is a per-peer FIFO of outbound messages. Push never blocks, so
// producers holding no locks can fan out to any number of peers without
// waiting on a slow connection. The transport drains it from a single writer
// goroutine.
type Outbox struct {
	mu     sync.Mutex
	closed bool
	limit  int
	msgs   []protocol.ServerMessage

	ready chan struct{}
	done  chan struct{}

	drops atomic.Uint64
}

// NewOutbox returns an empty outbox. limit bounds the number of queued
// messages; limit <= 0 means unbounded.
func NewOutbox(limit int) *Outbox {
	return &Outbox{
		limit: limit,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends msg. It reports false when the outbox is closed or full, in
// which case the message is dropped and counted.
func (o *Outbox) Push(msg protocol.ServerMessage) bool {
	o.mu.Lock()
	if o.closed || (o.limit > 0 && len(o.msgs) >= o.limit) {
		o.mu.Unlock()
		o.drops.Add(1)
		return false
	}
	o.msgs = append(o.msgs, msg)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled after a Push onto an outbox the consumer has not yet
// drained. A single signal may cover several messages.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Done is closed by Close.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Drain removes and returns every queued message in push order.
func (o *Outbox) Drain() []protocol.ServerMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.msgs
	o.msgs = nil
	return out
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

func (o *Outbox) DropCount() uint64 {
	return o.drops.Load()
}

// Close discards pending messages. Later pushes are dropped.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.msgs = nil
	close(o.done)
}
