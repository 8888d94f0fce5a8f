package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tophourbot/internal/dispatch"
	"tophourbot/internal/irc"
	"tophourbot/internal/notifier"
	"tophourbot/internal/storage"
	"tophourbot/internal/stream"
	logx "tophourbot/pkg/logx"
)

const DefaultCodeURL = "https://github.com/TopOTheHourBot/"

type Config struct {
	Auth    Authorizer
	CodeURL string
}

// Link reports on the live chat connection.
type Link interface {
	// Latency is the last measured round trip, zero until known.
	Latency() time.Duration
	// ConnectedAt is when the live connection was bound, zero between
	// connections.
	ConnectedAt() time.Time
}

type noLink struct{}

func (noLink) Latency() time.Duration { return 0 }
func (noLink) ConnectedAt() time.Time { return time.Time{} }

// Handler answers the general moderator commands.
type Handler struct {
	cfg   Config
	link  Link
	store storage.Store
	log   logx.Logger
}

func NewHandler(cfg Config, link Link, st storage.Store, log logx.Logger) *Handler {
	if cfg.CodeURL == "" {
		cfg.CodeURL = DefaultCodeURL
	}
	if link == nil {
		link = noLink{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{cfg: cfg, link: link, store: st, log: log}
}

func (h *Handler) Name() string { return "commands" }

func (h *Handler) Run(ctx context.Context, in stream.Stream[irc.PrivateMessage], out dispatch.Output) error {
	for {
		m, ok := in.Next(ctx)
		if !ok {
			return nil
		}
		cmd, ok := h.cfg.Auth.Match(m)
		if !ok {
			continue
		}
		text, ok := h.answer(cmd)
		if !ok {
			continue
		}
		Audit(h.store, h.log, m, cmd, nil)
		if !out.Emit(notifier.Action{Text: text, ReplyTo: &m, Important: true}) {
			return nil
		}
	}
}

// answer returns the reply for cmd, or false when cmd is not one of ours.
func (h *Handler) answer(cmd Command) (string, bool) {
	switch cmd.Name {
	case "ping":
		return millis(h.link.Latency()), true
	case "echo", "copy", "shadow":
		if len(cmd.Args) == 0 {
			return "", false
		}
		return strings.Join(cmd.Args, " "), true
	case "code":
		handles := make([]string, 0, len(cmd.Args))
		for _, a := range cmd.Args {
			handles = append(handles, "@"+strings.TrimLeft(a, "@"))
		}
		return strings.TrimSpace(strings.Join(handles, " ") + " you can find the bot's source code on GitHub " + h.cfg.CodeURL), true
	case "uptime":
		at := h.link.ConnectedAt()
		if at.IsZero() {
			return "not connected", true
		}
		return fmt.Sprintf("connected for %s, latency %s", time.Since(at).Round(time.Second), millis(h.link.Latency())), true
	default:
		return "", false
	}
}

func millis(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Round(time.Millisecond).Milliseconds())
}
