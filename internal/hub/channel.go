package hub

import (
	"context"
	"sync"

	"tophourbot/internal/stream"
)

// Channel is one consumer's ordered, closable queue attached to a Diverter.
//
// Inbound buffering is unbounded: a slow consumer never causes an item to be
// dropped. A channel has a single logical consumer; concurrent Recv calls are
// safe but may wake each other spuriously.
//
// Once closed a channel never reopens. Items queued before closure are still
// delivered; Recv on a closed and drained channel reports false.
type Channel[T any] struct {
	id    uint64
	owner *Diverter[T]

	mu     sync.Mutex
	queue  []T
	closed bool

	ready chan struct{} // cap 1, poked on every send
	done  chan struct{} // closed on close
}

func newChannel[T any](id uint64, owner *Diverter[T]) *Channel[T] {
	return &Channel[T]{
		id:    id,
		owner: owner,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// send appends v. Only the owning hub calls it, under the hub lock.
func (c *Channel[T]) send(v T) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, v)
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
	return true
}

// Recv blocks until an item is available, the channel is closed and drained,
// or ctx is done. Cancellation never consumes an item.
func (c *Channel[T]) Recv(ctx context.Context) (T, bool) {
	var zero T
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			v := c.queue[0]
			c.queue[0] = zero
			c.queue = c.queue[1:]
			if len(c.queue) == 0 {
				c.queue = nil
			}
			c.mu.Unlock()
			return v, true
		}
		if c.closed {
			c.mu.Unlock()
			return zero, false
		}
		c.mu.Unlock()

		select {
		case <-c.ready:
		case <-c.done:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// Len is the number of queued items.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Closed reports whether the channel stopped accepting items.
func (c *Channel[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed when the channel closes.
func (c *Channel[T]) Done() <-chan struct{} { return c.done }

// Detach removes the channel from its hub, closes it and drops anything still
// queued. It is idempotent; owners defer it right after Attach.
func (c *Channel[T]) Detach() {
	if c.owner != nil {
		c.owner.remove(c.id)
	}
	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()
	c.close()
}

func (c *Channel[T]) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Stream exposes the channel as a stream.Stream.
func (c *Channel[T]) Stream() stream.Stream[T] {
	return stream.Func[T](c.Recv)
}
