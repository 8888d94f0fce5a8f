// Package websocket implements transport.Conn over Twitch's IRC-over-websocket
// endpoint using gorilla/websocket.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"tophourbot/internal/transport"
	logx "tophourbot/pkg/logx"
)

const DefaultURL = "ws://irc-ws.chat.twitch.tv:80"

type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval drives websocket-level pings used for latency; 0 disables.
	PingInterval time.Duration
	ReadLimit    int64
}

type Dialer struct {
	cfg Config
	log logx.Logger
}

func NewDialer(cfg Config, log logx.Logger) *Dialer {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dialer{cfg: cfg, log: log}
}

func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	dialer := ws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}
	c, resp, err := dialer.DialContext(ctx, d.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", d.cfg.URL, err)
	}
	c.SetReadLimit(d.cfg.ReadLimit)

	conn := &Conn{
		ws:           c,
		writeTimeout: d.cfg.WriteTimeout,
		log:          d.log,
		done:         make(chan struct{}),
	}
	c.SetPongHandler(conn.onPong)
	if d.cfg.PingInterval > 0 {
		go conn.pingLoop(d.cfg.PingInterval)
	}
	d.log.Info("websocket connected", logx.String("url", d.cfg.URL))
	return conn, nil
}

// Conn is a live websocket connection.
type Conn struct {
	ws           *ws.Conn
	writeTimeout time.Duration
	log          logx.Logger

	wmu sync.Mutex // gorilla allows one concurrent writer

	pingSentAt atomic.Int64 // unix nanos
	latency    atomic.Int64 // nanos

	closeOnce sync.Once
	done      chan struct{}
}

// Wrap adopts an already established websocket connection. Tests pair it with
// an httptest server.
func Wrap(c *ws.Conn, log logx.Logger) *Conn {
	if log.IsZero() {
		log = logx.Nop()
	}
	conn := &Conn{ws: c, writeTimeout: 5 * time.Second, log: log, done: make(chan struct{})}
	c.SetPongHandler(conn.onPong)
	return conn
}

func (c *Conn) Receive(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return "", transport.ErrClosed
	default:
	}
	// Unblock the read when ctx ends; the deadline poisons the conn, which
	// is fine because the reader stops using it after that.
	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Unix(1, 0)) })
	defer stop()

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) || errors.Is(err, ws.ErrCloseSent) {
				return "", transport.ErrClosed
			}
			select {
			case <-c.done:
				return "", transport.ErrClosed
			default:
			}
			return "", fmt.Errorf("websocket read: %w", err)
		}
		if typ != ws.TextMessage {
			continue
		}
		return string(data), nil
	}
}

func (c *Conn) Send(ctx context.Context, line string) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(ws.TextMessage, []byte(line)); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *Conn) Latency() time.Duration { return time.Duration(c.latency.Load()) }

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wmu.Lock()
		_ = c.ws.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) onPong(string) error {
	if sent := c.pingSentAt.Load(); sent > 0 {
		c.latency.Store(time.Now().UnixNano() - sent)
	}
	return nil
}

// Ping sends one websocket ping; the matching pong updates Latency.
func (c *Conn) Ping() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.pingSentAt.Store(time.Now().UnixNano())
	return c.ws.WriteControl(ws.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *Conn) pingLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	if err := c.Ping(); err != nil {
		c.log.Debug("websocket ping failed", logx.Err(err))
	}
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.Ping(); err != nil {
				c.log.Debug("websocket ping failed", logx.Err(err))
				return
			}
		}
	}
}
