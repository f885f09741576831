package outbound

import (
	"context"
	"sync"
)

// Channel is the producer half of one peer's bounded outbound queue. Any
// number of goroutines may call TrySend; exactly one Receiver consumes.
//
// A Go channel panics when sent to after close, so the closed flag is guarded
// by an RWMutex: senders share the read lock for the duration of a
// non-blocking select, Close takes the write lock once. The lock is never held
// across a blocking operation.
type Channel struct {
	queue chan Message

	mu     sync.RWMutex
	closed bool
}

// Receiver is the consumer half, owned by the connection's writer task.
type Receiver struct {
	ch *Channel
}

// NewChannel builds a queue pair holding at most capacity messages.
func NewChannel(capacity int) (*Channel, *Receiver) {
	if capacity < 1 {
		capacity = 1
	}
	ch := &Channel{queue: make(chan Message, capacity)}
	return ch, &Receiver{ch: ch}
}

// TrySend enqueues msg without suspending. It returns ErrQueueFull when the
// queue is at capacity and ErrQueueClosed once the consumer side is gone.
func (c *Channel) TrySend(msg Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrQueueClosed
	}
	select {
	case c.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting messages. Already queued messages remain readable by
// the Receiver. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
}

func (c *Channel) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Len is the number of queued, not yet written, messages.
func (c *Channel) Len() int { return len(c.queue) }

func (c *Channel) Cap() int { return cap(c.queue) }

// Recv blocks until the next message is available. ok is false once the
// queue is closed and drained, or ctx is done.
func (r *Receiver) Recv(ctx context.Context) (msg Message, ok bool) {
	select {
	case msg, ok = <-r.ch.queue:
		return msg, ok
	case <-ctx.Done():
		return Message{}, false
	}
}

// Close is called by the consumer on exit so producers observe
// ErrQueueClosed instead of filling a queue nobody reads.
func (r *Receiver) Close() {
	r.ch.Close()
}
