package streaming

import (
	"context"
	"sync"
)

// outbox is a bounded FIFO between a session's producer and writer. When full, push evicts the
// oldest unsent message so the producer never blocks.
type outbox struct {
	mu      sync.Mutex
	items   []Message
	head    int
	size    int
	closed  bool
	dropped uint64
	notify  chan struct{}
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{
		items:  make([]Message, capacity),
		notify: make(chan struct{}, 1),
	}
}

// push enqueues msg and reports whether an older message was evicted.
func (o *outbox) push(msg Message) bool {
	o.mu.Lock()
	evicted := false
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if o.size == len(o.items) {
		o.head = (o.head + 1) % len(o.items)
		o.size--
		o.dropped++
		evicted = true
	}
	o.items[(o.head+o.size)%len(o.items)] = msg
	o.size++
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return evicted
}

// pop blocks until a message is available. It returns false once the outbox is closed and
// drained, or when ctx is done.
func (o *outbox) pop(ctx context.Context) (Message, bool) {
	for {
		o.mu.Lock()
		if o.size > 0 {
			msg := o.items[o.head]
			o.items[o.head] = Message{}
			o.head = (o.head + 1) % len(o.items)
			o.size--
			o.mu.Unlock()
			return msg, true
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return Message{}, false
		}

		select {
		case <-ctx.Done():
			return Message{}, false
		case <-o.notify:
		}
	}
}

// close stops accepting messages; already queued messages can still be popped.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *outbox) droppedCount() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
