// Package commands parses moderator commands and answers the general ones
// ($ping, $echo, $code, $uptime). Round control commands ($segue, $roleplay)
// are answered by the rating handlers that own the rounds.
package commands

import (
	"context"
	"strings"
	"time"

	"tophourbot/internal/irc"
	"tophourbot/internal/storage"
	logx "tophourbot/pkg/logx"
)

const DefaultPrefix = "$"

// Command is a parsed "$name arg arg" message.
type Command struct {
	Name string
	Args []string
}

// Arg returns the i-th argument or "".
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Parse splits text into a command when it starts with prefix.
// Names are lowercased; arguments keep their case.
func Parse(prefix, text string) (Command, bool) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(text), prefix)
	if !ok {
		return Command{}, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 || rest[0] == ' ' {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// Authorizer decides who may run commands: configured supervisors, room
// moderators and the broadcaster.
type Authorizer struct {
	Prefix      string
	Supervisors []string
}

func (a Authorizer) Allowed(m irc.PrivateMessage) bool {
	if m.Moderator || m.Broadcaster {
		return true
	}
	for _, s := range a.Supervisors {
		if strings.EqualFold(s, m.Sender) {
			return true
		}
	}
	return false
}

// Match parses m as a command from an authorized sender.
func (a Authorizer) Match(m irc.PrivateMessage) (Command, bool) {
	cmd, ok := Parse(a.Prefix, m.Text)
	if !ok || !a.Allowed(m) {
		return Command{}, false
	}
	return cmd, true
}

// Audit appends e to st in the background. Failures are logged only.
func Audit(st storage.Store, log logx.Logger, m irc.PrivateMessage, cmd Command, err error) {
	if st == nil {
		return
	}
	e := storage.AuditEntry{
		At:      time.Now(),
		Room:    m.Room,
		Actor:   m.Sender,
		Command: cmd.Name,
		Args:    strings.Join(cmd.Args, " "),
		OK:      err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.AppendAudit(ctx, e); err != nil {
			log.Warn("audit append failed", logx.String("command", cmd.Name), logx.Err(err))
		}
	}()
}
