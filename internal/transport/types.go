// Package transport defines the persistent chat connection the bot runs over.
//
// A Conn carries raw text frames. Parsing, PING handling and rate limiting
// live above it; reconnect policy lives in the app.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Receive and Send once the connection is gone.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one live connection.
//
// Receive is called from a single reader goroutine. Send is safe for
// concurrent use, although the notifier is its only caller in practice.
type Conn interface {
	// Receive blocks for the next frame. A frame may hold several lines.
	Receive(ctx context.Context) (string, error)
	// Send writes one line.
	Send(ctx context.Context, line string) error
	// Latency is the last measured round trip, zero until known.
	Latency() time.Duration
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }
