// Package hub fans one inbound sequence out to many independently consuming
// channels.
//
// Contract:
//   - Distribute copies an item to every channel attached at that instant.
//   - Items reach each channel in distribution order; there is no replay for
//     late attachers.
//   - Close is the only "input ended" signal consumers ever see.
package hub

import (
	"sync"
)

// Diverter owns the attachment set of a fan-out point.
type Diverter[T any] struct {
	mu     sync.Mutex
	chans  map[uint64]*Channel[T]
	seq    uint64
	closed bool
	done   chan struct{}
}

// New returns an open hub with no attachments.
func New[T any]() *Diverter[T] {
	return &Diverter[T]{
		chans: map[uint64]*Channel[T]{},
		done:  make(chan struct{}),
	}
}

// Attach registers a new channel. Attaching to a closed hub is a normal
// shutdown race, not a fault: the returned channel is already closed.
func (d *Diverter[T]) Attach() *Channel[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		c := newChannel[T](0, nil)
		c.close()
		return c
	}
	d.seq++
	c := newChannel(d.seq, d)
	d.chans[d.seq] = c
	return c
}

// Distribute copies v into every attached channel and returns how many
// received it. Channels found closed are pruned.
//
// The whole fan-out happens under the hub lock, so a concurrent Attach either
// sees v or does not, and two Distribute calls never interleave inside one
// channel's queue.
func (d *Diverter[T]) Distribute(v T) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0
	}
	n := 0
	for id, c := range d.chans {
		if c.send(v) {
			n++
			continue
		}
		delete(d.chans, id)
	}
	return n
}

// Close closes every attached channel and marks the hub closed. Idempotent.
func (d *Diverter[T]) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	chans := d.chans
	d.chans = map[uint64]*Channel[T]{}
	close(d.done)
	d.mu.Unlock()

	for _, c := range chans {
		c.close()
	}
}

// Closed reports whether Close has been called.
func (d *Diverter[T]) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Done is closed by Close.
func (d *Diverter[T]) Done() <-chan struct{} { return d.done }

// Len is the number of attached channels.
func (d *Diverter[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.chans)
}

func (d *Diverter[T]) remove(id uint64) {
	d.mu.Lock()
	delete(d.chans, id)
	d.mu.Unlock()
}
