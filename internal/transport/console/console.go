// Package console is a local transport: typed lines become chat messages in
// the configured room and everything the bot sends is printed. It lets the
// handlers be exercised without a Twitch account.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"tophourbot/internal/transport"
)

type Config struct {
	Room string
	// User is the sender of typed lines. Typed lines are sent with moderator
	// rights so commands can be tried.
	User string
}

type Dialer struct {
	cfg Config
	in  io.Reader
	out io.Writer
}

func NewDialer(cfg Config, in io.Reader, out io.Writer) *Dialer {
	if cfg.User == "" {
		cfg.User = "console"
	}
	return &Dialer{cfg: cfg, in: in, out: out}
}

// Dial may only be called once per reader; a second dial after the input
// ended returns a connection that is already closed.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	c := &Conn{
		cfg:   d.cfg,
		out:   d.out,
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go c.scan(d.in)
	return c, nil
}

type Conn struct {
	cfg Config
	out io.Writer

	wmu   sync.Mutex
	lines chan string
	seq   int

	closeOnce sync.Once
	done      chan struct{}
}

func (c *Conn) scan(in io.Reader) {
	defer close(c.lines)
	s := bufio.NewScanner(in)
	for s.Scan() {
		select {
		case c.lines <- s.Text():
		case <-c.done:
			return
		}
	}
}

func (c *Conn) Receive(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", transport.ErrClosed
		}
		return c.frame(line), nil
	case <-c.done:
		return "", transport.ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// frame passes raw protocol lines through and wraps plain text as a PRIVMSG.
func (c *Conn) frame(line string) string {
	if strings.HasPrefix(line, "@") || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "PING") {
		return line
	}
	c.seq++
	user := strings.ToLower(c.cfg.User)
	return fmt.Sprintf("@display-name=%s;id=console-%d;mod=1;tmi-sent-ts=%s :%s!%s@%s.tmi.twitch.tv PRIVMSG %s :%s",
		c.cfg.User, c.seq, strconv.FormatInt(time.Now().UnixMilli(), 10), user, user, user, c.cfg.Room, line)
}

func (c *Conn) Send(ctx context.Context, line string) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := fmt.Fprintf(c.out, "> %s\n", line)
	return err
}

func (c *Conn) Latency() time.Duration { return 0 }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
