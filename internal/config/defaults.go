package config

import "strings"

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (s SegueConfig) IsEnabled() bool { return boolOr(s.Enabled, true) }
func (s SegueConfig) Inferring() bool { return boolOr(s.Infer, true) }

func (r RoleplayConfig) IsEnabled() bool { return boolOr(r.Enabled, true) }
func (r RoleplayConfig) Inferring() bool { return boolOr(r.Infer, true) }

// TransportKind is the configured transport, "websocket" when unset.
func (c IRCConfig) TransportKind() string {
	if t := strings.ToLower(strings.TrimSpace(c.Transport)); t != "" {
		return t
	}
	return "websocket"
}
