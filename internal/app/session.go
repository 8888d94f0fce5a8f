package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"tophourbot/internal/config"
	"tophourbot/internal/dispatch"
	"tophourbot/internal/eventbus"
	"tophourbot/internal/hub"
	"tophourbot/internal/irc"
	"tophourbot/internal/runtime/supervisor"
	"tophourbot/internal/stream"
	"tophourbot/internal/transport"
	logx "tophourbot/pkg/logx"
	"tophourbot/pkg/systemd"
)

var (
	ErrWelcomeTimeout = errors.New("no welcome from server")
	ErrLoginRejected  = errors.New("login rejected")
	// ErrReconnectRequested is returned when the server asks clients to
	// move to another edge.
	ErrReconnectRequested = errors.New("server requested reconnect")
)

// twitchCaps are requested before login so messages carry tags and
// commands like RECONNECT are delivered.
var twitchCaps = []string{"twitch.tv/commands", "twitch.tv/membership", "twitch.tv/tags"}

// drainTimeout bounds how long handlers may keep concluding rounds after
// the connection ended.
const drainTimeout = 5 * time.Second

// ConnEvent is published on connect and disconnect.
type ConnEvent struct {
	Room  string `json:"room"`
	Error string `json:"error,omitempty"`
}

// session is one connection: its hubs, its reader and its dispatch loop.
// The connection hub carries every inbound item except PINGs; the room hub
// carries the configured room's messages from everyone but the bot itself
// and the configured bots.
type session struct {
	app  *App
	cfg  *config.Config
	conn transport.Conn
	log  logx.Logger

	room    string
	self    string
	console bool

	connHub *hub.Diverter[irc.Item]
	roomHub *hub.Diverter[irc.PrivateMessage]
}

// connect dials and runs one session. It returns nil only when a console
// input ended; every other end is an error so the caller reconnects.
func (a *App) connect(ctx context.Context) error {
	cfg := a.cfgm.Get()
	dialer := a.opts.dialer
	if dialer == nil {
		d, err := newDialer(cfg, a.opts.in, a.opts.out, a.log.With(logx.String("comp", "transport")))
		if err != nil {
			return err
		}
		dialer = d
	}
	handlers, err := a.handlersFor(cfg)
	if err != nil {
		return err
	}

	conn, err := dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	s := &session{
		app:     a,
		cfg:     cfg,
		conn:    conn,
		log:     a.log.With(logx.String("comp", "session")),
		room:    roomOf(cfg),
		self:    strings.ToLower(strings.TrimSpace(cfg.IRC.Nick)),
		console: cfg.IRC.TransportKind() == "console",
		connHub: hub.New[irc.Item](),
		roomHub: hub.New[irc.PrivateMessage](),
	}
	err = s.run(ctx, handlers)
	if s.console && errors.Is(err, transport.ErrClosed) {
		s.log.Info("console input ended")
		a.setStopReason(StopInputEnded)
		return nil
	}
	return err
}

func (s *session) run(ctx context.Context, handlers []dispatch.Handler[irc.PrivateMessage]) error {
	a := s.app
	defer func() { _ = s.conn.Close() }()
	a.bind(s.conn)
	defer a.bind(nil)

	sup := supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))
	defer func() {
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}()

	// Both attach before the reader starts so no item is missed.
	welcome := s.connHub.Attach()
	relay := hub.Relay(s.connHub, s.roomHub, s.admit)

	readDone := make(chan error, 1)
	sup.Go("conn.read", func(c context.Context) error {
		err := s.read(c)
		s.connHub.Close()
		readDone <- err
		return err
	})
	sup.Go("hub.relay", relay)

	loop := dispatch.New(s.roomHub, a.notif, handlers,
		dispatch.WithLogger(a.log.With(logx.String("comp", "dispatch"))),
		dispatch.WithMetrics(a.metrics),
	)
	a.setLoop(loop)
	defer a.setLoop(nil)
	loopDone := make(chan struct{})
	sup.Go("dispatch", func(c context.Context) error {
		defer close(loopDone)
		return loop.Run(c)
	})

	if err := s.login(sup.Context(), welcome, len(handlers)); err != nil {
		return err
	}

	a.metrics.Connected()
	eventbus.Publish(a.bus, eventbus.ConnConnected, ConnEvent{Room: s.room})
	_, _ = systemd.Status("connected to " + s.room)
	s.log.Info("connected", logx.String("room", s.room), logx.Int("handlers", len(handlers)))
	sup.Go0("conn.latency", s.sampleLatency)

	var readErr error
	select {
	case readErr = <-readDone:
	case <-ctx.Done():
		readErr = ctx.Err()
	}

	// The closed hub ends every handler; give rounds in flight a moment to
	// report before the connection goes away.
	t := time.NewTimer(drainTimeout)
	select {
	case <-loopDone:
	case <-t.C:
		s.log.Warn("handlers did not drain in time", logx.Duration("timeout", drainTimeout))
	}
	t.Stop()

	a.metrics.Disconnected()
	eventbus.Publish(a.bus, eventbus.ConnDisconnected, ConnEvent{Room: s.room, Error: errString(readErr)})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.log.Warn("disconnected", logx.Err(readErr))
	return fmt.Errorf("connection ended: %w", readErr)
}

// login sends the Twitch handshake, waits for the welcome, then joins the
// room once every handler listens on the room hub. The console transport
// has no handshake.
func (s *session) login(ctx context.Context, welcome *hub.Channel[irc.Item], handlers int) error {
	defer welcome.Detach()
	n := s.app.notif

	if !s.console {
		s.log.Debug("logging in", logx.String("nick", s.self), logx.Secret("token", s.cfg.IRC.Token))
		for _, line := range []string{irc.CapReq(twitchCaps...), irc.Pass(s.cfg.IRC.Token), irc.Nick(s.self)} {
			if err := n.Raw(ctx, line); err != nil {
				return fmt.Errorf("login: %w", err)
			}
		}
		wait := welcomeTimeout(s.cfg)
		res, ok := stream.First(ctx, stream.Timeout(stream.FilterMap(welcome.Stream(), loginReply), wait, true))
		switch {
		case !ok && ctx.Err() != nil:
			return ctx.Err()
		case !ok && welcome.Closed():
			return fmt.Errorf("login: %w", transport.ErrClosed)
		case !ok:
			return fmt.Errorf("login: %w after %s", ErrWelcomeTimeout, wait)
		case res.err != nil:
			return fmt.Errorf("login: %w", res.err)
		}
	}

	if err := waitAttached(ctx, s.roomHub, handlers); err != nil {
		return err
	}
	if err := n.Join(ctx, s.room); err != nil {
		return fmt.Errorf("join %s: %w", s.room, err)
	}
	return nil
}

// loginResult is the server's answer to a login; err is nil for the welcome.
type loginResult struct{ err error }

func loginReply(it irc.Item) (loginResult, bool) {
	o, ok := it.(irc.Other)
	if !ok {
		return loginResult{}, false
	}
	switch o.Message.Command {
	case "001":
		return loginResult{}, true
	case "NOTICE":
		text := o.Message.Trailing()
		if strings.Contains(text, "authentication failed") || strings.Contains(text, "Improperly formatted auth") {
			return loginResult{err: fmt.Errorf("%w: %s", ErrLoginRejected, text)}, true
		}
	}
	return loginResult{}, false
}

// waitAttached waits until n channels are attached to h.
func waitAttached[T any](ctx context.Context, h *hub.Diverter[T], n int) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for h.Len() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.Done():
			return fmt.Errorf("room hub: %w", transport.ErrClosed)
		case <-t.C:
		}
	}
	return nil
}

// read parses inbound frames until the connection fails. PINGs are answered
// here and never distributed.
func (s *session) read(ctx context.Context) error {
	a := s.app
	// Unparsed lines can arrive once per chat line.
	noisy := s.log.Sampled(5, time.Minute)
	for {
		frame, err := s.conn.Receive(ctx)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, line := range irc.SplitFrame(frame) {
			item := irc.Parse(line, now)
			switch it := item.(type) {
			case irc.Ping:
				a.metrics.Inbound("ping")
				if err := a.notif.Raw(ctx, irc.Pong(it.Token)); err != nil {
					s.log.Warn("pong failed", logx.Err(err))
				}
				continue
			case irc.PrivateMessage:
				a.metrics.Inbound("privmsg")
			case irc.Other:
				a.metrics.Inbound("other")
				switch it.Message.Command {
				case "":
					noisy.Debug("unparsed line", logx.String("line", it.Raw))
				case "RECONNECT":
					return ErrReconnectRequested
				}
			}
			s.connHub.Distribute(item)
		}
	}
}

// admit passes the room's messages to the room hub.
func (s *session) admit(it irc.Item) (irc.PrivateMessage, bool) {
	m, ok := it.(irc.PrivateMessage)
	if !ok || m.Room != s.room || m.Sender == s.self {
		return irc.PrivateMessage{}, false
	}
	if slices.ContainsFunc(s.cfg.IRC.Bots, func(b string) bool { return strings.EqualFold(b, m.Sender) }) {
		return irc.PrivateMessage{}, false
	}
	return m, true
}

func (s *session) sampleLatency(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if d := s.conn.Latency(); d > 0 {
				s.app.metrics.SetLatency(d.Seconds())
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
