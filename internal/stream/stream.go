// Package stream provides lazy, single-pass, pull-based sequences and the
// combinators handlers build on.
//
// A Stream is pulled with Next. Once Next reports false the stream is
// exhausted (or ctx ended) and must not be reused; streams are rebuilt, never
// rewound. Combinators pull from their source on demand and never buffer the
// whole sequence.
package stream

import (
	"context"
	"time"
)

// Stream is a single-pass asynchronous sequence.
//
// Next blocks until the next item is available, the sequence ends, or ctx is
// done. A false result means "no item"; callers that need to tell end-of-input
// from cancellation check ctx.Err().
type Stream[T any] interface {
	Next(ctx context.Context) (T, bool)
}

// Func adapts a pull function to a Stream.
type Func[T any] func(ctx context.Context) (T, bool)

func (f Func[T]) Next(ctx context.Context) (T, bool) { return f(ctx) }

// Map transforms every item. f must be total; use Filter or FilterMap to drop.
func Map[T, U any](s Stream[T], f func(T) U) Stream[U] {
	return Func[U](func(ctx context.Context) (U, bool) {
		v, ok := s.Next(ctx)
		if !ok {
			var zero U
			return zero, false
		}
		return f(v), true
	})
}

// Filter drops items failing keep, preserving arrival order.
func Filter[T any](s Stream[T], keep func(T) bool) Stream[T] {
	return Func[T](func(ctx context.Context) (T, bool) {
		for {
			v, ok := s.Next(ctx)
			if !ok || keep(v) {
				return v, ok
			}
		}
	})
}

// FilterMap maps and drops in one step: items for which f reports false are skipped.
func FilterMap[T, U any](s Stream[T], f func(T) (U, bool)) Stream[U] {
	return Func[U](func(ctx context.Context) (U, bool) {
		for {
			v, ok := s.Next(ctx)
			if !ok {
				var zero U
				return zero, false
			}
			if u, keep := f(v); keep {
				return u, true
			}
		}
	})
}

// First consumes items up to and including the first one and returns it.
// It reports false if the stream ends first.
func First[T any](ctx context.Context, s Stream[T]) (T, bool) {
	return s.Next(ctx)
}

// Limit ends the sequence after n items.
func Limit[T any](s Stream[T], n int) Stream[T] {
	seen := 0
	return Func[T](func(ctx context.Context) (T, bool) {
		if seen >= n {
			var zero T
			return zero, false
		}
		v, ok := s.Next(ctx)
		if ok {
			seen++
		}
		return v, ok
	})
}

// bounded pulls are the three timeout modes.
type bound int

const (
	everyPull bound = iota
	firstPull
	afterFirst
)

type timeoutStream[T any] struct {
	src   Stream[T]
	d     time.Duration
	mode  bound
	pulls int
	ended bool
}

// Timeout bounds the wait for the next item by d. With firstOnly set only the
// very first pull is bounded; otherwise every pull is. Expiry ends the sequence
// without consuming an item from sources that honor ctx (channels, merges).
func Timeout[T any](s Stream[T], d time.Duration, firstOnly bool) Stream[T] {
	mode := everyPull
	if firstOnly {
		mode = firstPull
	}
	return &timeoutStream[T]{src: s, d: d, mode: mode}
}

// Decay waits indefinitely for the first item, then requires each following
// item within d of the previous pull. This is the shape of an aggregation
// round: an open-ended wait for the first signal, then rapid follow-ups.
func Decay[T any](s Stream[T], d time.Duration) Stream[T] {
	return &timeoutStream[T]{src: s, d: d, mode: afterFirst}
}

func (t *timeoutStream[T]) bounded() bool {
	switch t.mode {
	case firstPull:
		return t.pulls == 0
	case afterFirst:
		return t.pulls > 0
	default:
		return true
	}
}

func (t *timeoutStream[T]) Next(ctx context.Context) (T, bool) {
	var zero T
	if t.ended {
		return zero, false
	}
	pctx := ctx
	if t.bounded() {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, t.d)
		defer cancel()
	}
	t.pulls++
	v, ok := t.src.Next(pctx)
	if !ok {
		t.ended = true
		return zero, false
	}
	return v, true
}

// Collect drains s into a slice.
func Collect[T any](ctx context.Context, s Stream[T]) []T {
	var out []T
	for {
		v, ok := s.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Count drains s and returns the number of items seen.
func Count[T any](ctx context.Context, s Stream[T]) int {
	n := 0
	for {
		if _, ok := s.Next(ctx); !ok {
			return n
		}
		n++
	}
}

// Reduction is the result of Reduce. Initial is true when the stream ended
// before yielding anything, so Value is still the seed.
type Reduction[A any] struct {
	Value   A
	Initial bool
}

// Reduce folds s into an accumulator starting at seed.
func Reduce[T, A any](ctx context.Context, s Stream[T], seed A, f func(A, T) A) Reduction[A] {
	r := Reduction[A]{Value: seed, Initial: true}
	for {
		v, ok := s.Next(ctx)
		if !ok {
			return r
		}
		r.Value = f(r.Value, v)
		r.Initial = false
	}
}

// FromSlice yields items in order.
func FromSlice[T any](items ...T) Stream[T] {
	i := 0
	return Func[T](func(ctx context.Context) (T, bool) {
		var zero T
		if i >= len(items) || ctx.Err() != nil {
			return zero, false
		}
		v := items[i]
		i++
		return v, true
	})
}

// FromChan yields values received from ch until it is closed.
func FromChan[T any](ch <-chan T) Stream[T] {
	return Func[T](func(ctx context.Context) (T, bool) {
		select {
		case v, ok := <-ch:
			return v, ok
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	})
}

// Generate runs produce in its own goroutine and streams what it yields.
// yield reports false once ctx is done; produce should return then.
// The stream ends when produce returns.
func Generate[T any](ctx context.Context, produce func(ctx context.Context, yield func(T) bool)) Stream[T] {
	ch := make(chan T)
	go func() {
		defer close(ch)
		produce(ctx, func(v T) bool {
			select {
			case ch <- v:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return FromChan(ch)
}
