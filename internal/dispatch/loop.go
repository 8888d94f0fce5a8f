// Package dispatch runs the chat handlers.
//
// Every handler gets its own channel on the room hub and its own action
// stream. The loop merges the action streams and hands each action to the
// sink. A handler that fails or panics is restarted with a fresh channel; the
// others keep running.
package dispatch

import (
	"context"
	"sync"
	"time"

	"tophourbot/internal/hub"
	"tophourbot/internal/metrics"
	"tophourbot/internal/notifier"
	"tophourbot/internal/runtime/supervisor"
	"tophourbot/internal/stream"
	logx "tophourbot/pkg/logx"
)

// Sink accepts actions. *notifier.Service implements it.
type Sink interface {
	Dispatch(ctx context.Context, a notifier.Action) <-chan notifier.Outcome
	Send(ctx context.Context, a notifier.Action) notifier.Outcome
}

// Output is a handler's view of the sink.
type Output interface {
	// Emit queues a on the handler's action stream. It reports false once the
	// loop is shutting down.
	Emit(a notifier.Action) bool
	// Send bypasses the stream and waits for the outcome.
	Send(ctx context.Context, a notifier.Action) notifier.Outcome
}

// Handler consumes the items of one hub channel.
//
// Run returns nil when its input ends; any other return or a panic restarts
// it with a new channel.
type Handler[T any] interface {
	Name() string
	Run(ctx context.Context, in stream.Stream[T], out Output) error
}

type Option func(*options)

type options struct {
	log        logx.Logger
	metrics    *metrics.Metrics
	minBackoff time.Duration
	maxBackoff time.Duration
}

func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithRestartBackoff bounds the wait before a failed handler is restarted.
func WithRestartBackoff(min, max time.Duration) Option {
	return func(o *options) {
		o.minBackoff = min
		o.maxBackoff = max
	}
}

// Loop runs a fixed set of handlers over one hub.
type Loop[T any] struct {
	hub      *hub.Diverter[T]
	sink     Sink
	handlers []Handler[T]
	opts     options

	mu  sync.Mutex
	sup *supervisor.Supervisor
}

func New[T any](h *hub.Diverter[T], sink Sink, handlers []Handler[T], opts ...Option) *Loop[T] {
	o := options{minBackoff: 250 * time.Millisecond, maxBackoff: 10 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	return &Loop[T]{hub: h, sink: sink, handlers: handlers, opts: o}
}

// Supervisor returns the supervisor of the current run, nil before Run.
func (l *Loop[T]) Supervisor() *supervisor.Supervisor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sup
}

// Run blocks until the hub has closed, every handler has returned, and every
// dispatched action has an outcome. Cancelling ctx ends it early.
func (l *Loop[T]) Run(ctx context.Context) error {
	log := l.opts.log
	m := l.opts.metrics
	sup := supervisor.New(ctx,
		supervisor.WithLogger(log),
		supervisor.WithCancelOnError(false),
		supervisor.WithRestartHook(m.Restarted),
	)
	l.mu.Lock()
	l.sup = sup
	l.mu.Unlock()

	merger := stream.NewMerger[notifier.Action](sup.Context())
	for _, h := range l.handlers {
		actions := make(chan notifier.Action)
		merger.Add(stream.FromChan(actions))
		out := &output{ctx: sup.Context(), actions: actions, sink: l.sink}

		sup.GoRestart(h.Name(), func(ctx context.Context) error {
			ch := l.hub.Attach()
			defer ch.Detach()
			m.SetAttached(l.hub.Len())
			return h.Run(ctx, ch.Stream(), out)
		},
			supervisor.WithRestartBackoff(l.opts.minBackoff, l.opts.maxBackoff),
			supervisor.WithOnExit(func() { close(actions) }),
		)
	}
	merger.Seal()

	var inflight sync.WaitGroup
	for {
		a, ok := merger.Next(ctx)
		if !ok {
			break
		}
		// Dispatch fixes the send slot, so it runs here in merge order; only
		// the wait for the outcome is moved off the loop.
		res := l.sink.Dispatch(ctx, a)
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			<-res
		}()
	}
	inflight.Wait()

	sup.Cancel()
	_ = sup.Wait(context.Background())
	log.Debug("dispatch loop ended", logx.Int("handlers", len(l.handlers)))
	return ctx.Err()
}

type output struct {
	ctx     context.Context
	actions chan<- notifier.Action
	sink    Sink
}

func (o *output) Emit(a notifier.Action) bool {
	select {
	case o.actions <- a:
		return true
	case <-o.ctx.Done():
		return false
	}
}

func (o *output) Send(ctx context.Context, a notifier.Action) notifier.Outcome {
	return o.sink.Send(ctx, a)
}
