package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tophourbot/internal/eventbus"
	"tophourbot/internal/irc"
	"tophourbot/internal/metrics"
	"tophourbot/internal/transport"
	logx "tophourbot/pkg/logx"
)

var (
	ErrNotConnected = errors.New("notifier: not connected")
	ErrEmptyAction  = errors.New("notifier: empty action")
)

// Service is the only writer to the transport.
//
// Chat messages share one cooldown limiter. Important messages queue behind
// each other in submission order and wait for the cooldown; best-effort
// messages are sent only when nothing is pending and a token is free,
// otherwise they are dropped. JOINs have their own limiter. Raw lines are
// serialized with everything else but never cooled down.
//
// The service outlives connections: Bind swaps the writer after a reconnect.
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	// quiet logs per-action outcomes, which burst while disconnected.
	quiet   logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	cfg         Config
	limiter     *rate.Limiter
	joinLimiter *rate.Limiter

	conn transport.Conn
	wmu  sync.Mutex

	// tail is closed when the most recently reserved important send is done.
	tail    chan struct{}
	pending int

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, quiet: log.Sampled(10, time.Minute), bus: bus, metrics: m}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.JoinCooldown <= 0 {
		cfg.JoinCooldown = DefaultJoinCooldown
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	s.cfg = cfg

	// Keep limiter state across reloads so a reload can't grant a free token.
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Every(cfg.Cooldown), 1)
	} else {
		s.limiter.SetLimit(rate.Every(cfg.Cooldown))
	}
	if s.joinLimiter == nil {
		s.joinLimiter = rate.NewLimiter(rate.Every(cfg.JoinCooldown), 1)
	} else {
		s.joinLimiter.SetLimit(rate.Every(cfg.JoinCooldown))
	}
}

// Bind sets the connection used for writes. Bind(nil) unbinds.
func (s *Service) Bind(conn transport.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Dispatch submits a. The cooldown slot is reserved before Dispatch returns,
// so submission order is send order; the wait and the write happen in the
// background. The returned channel yields exactly one Outcome.
func (s *Service) Dispatch(ctx context.Context, a Action) <-chan Outcome {
	out := make(chan Outcome, 1)
	if a.Text == "" {
		out <- s.finish(a, Outcome{Status: StatusFailed, Err: ErrEmptyAction})
		return out
	}

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		out <- s.finish(a, Outcome{Status: StatusFailed, Err: ErrNotConnected})
		return out
	}

	if !a.Important {
		if s.pending > 0 {
			s.mu.Unlock()
			out <- s.finish(a, Outcome{Status: StatusDropped})
			return out
		}
		r := s.limiter.Reserve()
		if !r.OK() || r.Delay() > 0 {
			r.Cancel()
			s.mu.Unlock()
			out <- s.finish(a, Outcome{Status: StatusDropped})
			return out
		}
		s.pending++
		s.mu.Unlock()

		go func() {
			err := s.write(ctx, a.Line())
			s.release()
			out <- s.finish(a, outcomeOf(err))
		}()
		return out
	}

	prev := s.tail
	mine := make(chan struct{})
	s.tail = mine
	s.pending++
	lim := s.limiter
	s.mu.Unlock()

	go func() {
		start := time.Now()
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				// Keep the chain ordered for whoever queued behind us.
				go func() {
					<-prev
					close(mine)
				}()
				s.release()
				out <- s.finish(a, Outcome{Status: StatusFailed, Err: ctx.Err()})
				return
			}
		}
		defer close(mine)

		if err := lim.Wait(ctx); err != nil {
			s.release()
			out <- s.finish(a, Outcome{Status: StatusFailed, Err: fmt.Errorf("notifier: cooldown: %w", err)})
			return
		}
		s.metrics.ObserveSendWait(time.Since(start).Seconds())
		err := s.write(ctx, a.Line())
		s.release()
		out <- s.finish(a, outcomeOf(err))
	}()
	return out
}

// Send dispatches a and waits for its outcome.
func (s *Service) Send(ctx context.Context, a Action) Outcome {
	select {
	case o := <-s.Dispatch(ctx, a):
		return o
	case <-ctx.Done():
		return Outcome{Status: StatusFailed, Err: ctx.Err()}
	}
}

// Join waits for the join cooldown and joins room.
func (s *Service) Join(ctx context.Context, room string) error {
	s.mu.Lock()
	lim := s.joinLimiter
	s.mu.Unlock()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("notifier: join cooldown: %w", err)
	}
	return s.write(ctx, irc.Join(room))
}

// Raw writes a protocol line without any cooldown (PONG, CAP, PASS, NICK).
func (s *Service) Raw(ctx context.Context, line string) error {
	return s.write(ctx, line)
}

func (s *Service) write(ctx context.Context, line string) error {
	s.mu.Lock()
	conn := s.conn
	timeout := s.cfg.WriteTimeout
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Send(cctx, line); err != nil {
		return fmt.Errorf("notifier: write: %w", err)
	}
	return nil
}

func (s *Service) release() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
}

func outcomeOf(err error) Outcome {
	if err != nil {
		return Outcome{Status: StatusFailed, Err: err}
	}
	return Outcome{Status: StatusSent}
}

// finish records o and returns it.
func (s *Service) finish(a Action, o Outcome) Outcome {
	room := a.Room
	if room == "" && a.ReplyTo != nil {
		room = a.ReplyTo.Room
	}
	ev := ActionEvent{Room: room, Text: a.Text, Important: a.Important}

	s.metrics.Outbound(o.Status.String())
	switch o.Status {
	case StatusSent:
		s.appendHistory(room, a.Text)
		eventbus.Publish(s.bus, eventbus.NotifierSent, ev)
	case StatusDropped:
		s.quiet.Debug("action dropped", logx.String("room", room), logx.Bool("important", a.Important))
		eventbus.Publish(s.bus, eventbus.NotifierDropped, ev)
	case StatusFailed:
		ev.Error = o.Err.Error()
		s.quiet.Warn("action failed", logx.String("room", room), logx.Bool("important", a.Important), logx.Err(o.Err))
		eventbus.Publish(s.bus, eventbus.NotifierFailed, ev)
	}
	return o
}

// Snapshot returns the recently sent messages, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(room, text string) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Room: room, Text: text})
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
