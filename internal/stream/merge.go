package stream

import (
	"context"
	"sync"
)

// Merger fans many streams into one. Items are delivered first-ready-wins;
// each source keeps its own order, sources are not ordered against each other.
//
// The merged stream ends once Seal has been called and every source added so
// far has ended. Sources may be added while the merger is live, including
// after Seal, as long as at least one source is still running.
type Merger[T any] struct {
	ctx context.Context
	out chan T

	mu       sync.Mutex
	active   int
	sealed   bool
	finished bool
	done     chan struct{}
}

// NewMerger returns an empty merger. Sources are pulled with ctx.
func NewMerger[T any](ctx context.Context) *Merger[T] {
	return &Merger[T]{
		ctx:  ctx,
		out:  make(chan T),
		done: make(chan struct{}),
	}
}

// Merge is NewMerger + Add for every source + Seal.
func Merge[T any](ctx context.Context, sources ...Stream[T]) *Merger[T] {
	m := NewMerger[T](ctx)
	for _, s := range sources {
		m.Add(s)
	}
	m.Seal()
	return m
}

// Add starts pulling s. It reports false once the merger has finished.
func (m *Merger[T]) Add(s Stream[T]) bool {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return false
	}
	m.active++
	m.mu.Unlock()

	go m.pump(s)
	return true
}

// Seal declares that the merger may end once its current sources end.
func (m *Merger[T]) Seal() {
	m.mu.Lock()
	m.sealed = true
	m.finishLocked()
	m.mu.Unlock()
}

// Active is the number of sources still running.
func (m *Merger[T]) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Merger[T]) pump(s Stream[T]) {
	defer func() {
		m.mu.Lock()
		m.active--
		m.finishLocked()
		m.mu.Unlock()
	}()
	for {
		v, ok := s.Next(m.ctx)
		if !ok {
			return
		}
		select {
		case m.out <- v:
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Merger[T]) finishLocked() {
	if m.finished || !m.sealed || m.active > 0 {
		return
	}
	m.finished = true
	close(m.done)
}

// Next returns the next item from whichever source is ready first.
func (m *Merger[T]) Next(ctx context.Context) (T, bool) {
	select {
	case v := <-m.out:
		return v, true
	case <-m.done:
		// out is unbuffered and every pump has returned, so nothing is pending.
		var zero T
		return zero, false
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}
