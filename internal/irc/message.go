// Package irc parses and builds IRCv3 lines as spoken by Twitch chat.
//
// Only the subset the bot needs is covered: message tags, source prefix,
// command and parameters on the way in; PRIVMSG, JOIN, PONG and the login
// prelude on the way out.
package irc

import (
	"errors"
	"strings"
)

var ErrEmptyLine = errors.New("irc: empty line")

// Message is one parsed protocol line.
type Message struct {
	Tags    map[string]string
	Source  string // raw prefix without the leading ':'
	Command string
	Params  []string
}

// Nick returns the nickname portion of Source ("nick!user@host").
func (m Message) Nick() string {
	src := m.Source
	if i := strings.IndexByte(src, '!'); i >= 0 {
		return src[:i]
	}
	if i := strings.IndexByte(src, '@'); i >= 0 {
		return src[:i]
	}
	return src
}

// Param returns the i-th parameter or "".
func (m Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// Trailing returns the last parameter or "".
func (m Message) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// ParseMessage parses one line (without its CRLF).
func ParseMessage(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	var m Message
	if strings.TrimSpace(line) == "" {
		return m, ErrEmptyLine
	}

	if strings.HasPrefix(line, "@") {
		raw, rest, _ := strings.Cut(line[1:], " ")
		m.Tags = parseTags(raw)
		line = strings.TrimLeft(rest, " ")
	}
	if strings.HasPrefix(line, ":") {
		src, rest, _ := strings.Cut(line[1:], " ")
		m.Source = src
		line = strings.TrimLeft(rest, " ")
	}

	cmd, rest, _ := strings.Cut(line, " ")
	if cmd == "" {
		return m, errors.New("irc: missing command")
	}
	m.Command = strings.ToUpper(cmd)

	for rest != "" {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		if rest[0] == ':' {
			m.Params = append(m.Params, rest[1:])
			break
		}
		var p string
		p, rest, _ = strings.Cut(rest, " ")
		m.Params = append(m.Params, p)
	}
	return m, nil
}

func parseTags(raw string) map[string]string {
	tags := map[string]string{}
	for _, kv := range strings.Split(raw, ";") {
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		tags[k] = unescapeTag(v)
	}
	return tags
}

func unescapeTag(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(v) {
			break
		}
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

func escapeTag(v string) string {
	r := strings.NewReplacer(`\`, `\\`, ";", `\:`, " ", `\s`, "\r", `\r`, "\n", `\n`)
	return r.Replace(v)
}

// String serializes m back to a protocol line (without CRLF). Tag order is
// not preserved.
func (m Message) String() string {
	var b strings.Builder
	if len(m.Tags) > 0 {
		b.WriteByte('@')
		first := true
		for k, v := range m.Tags {
			if !first {
				b.WriteByte(';')
			}
			first = false
			b.WriteString(k)
			if v != "" {
				b.WriteByte('=')
				b.WriteString(escapeTag(v))
			}
		}
		b.WriteByte(' ')
	}
	if m.Source != "" {
		b.WriteByte(':')
		b.WriteString(m.Source)
		b.WriteByte(' ')
	}
	b.WriteString(m.Command)
	for i, p := range m.Params {
		b.WriteByte(' ')
		if i == len(m.Params)-1 && (p == "" || strings.ContainsAny(p, " :") || p[0] == ':') {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}

// SplitFrame splits a transport frame into protocol lines. Twitch batches
// several CRLF-terminated lines into one websocket frame.
func SplitFrame(frame string) []string {
	parts := strings.Split(frame, "\n")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimRight(p, "\r")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
