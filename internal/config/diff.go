package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tophourbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// IRC (never log token)
	o, n := oldCfg.IRC, newCfg.IRC
	if o.Transport != n.Transport || o.URL != n.URL || o.Nick != n.Nick || o.Room != n.Room ||
		!reflect.DeepEqual(o.Bots, n.Bots) || !reflect.DeepEqual(o.Supervisors, n.Supervisors) ||
		o.HandshakeTimeout != n.HandshakeTimeout || o.PingInterval != n.PingInterval ||
		o.WelcomeTimeout != n.WelcomeTimeout || o.Token != n.Token {
		changed = append(changed, "irc")
		attrs = append(attrs,
			logx.String("irc.transport", n.Transport),
			logx.String("irc.nick", n.Nick),
			logx.String("irc.room", n.Room),
			logx.Int("irc.bot_count", len(n.Bots)),
			logx.Int("irc.supervisor_count", len(n.Supervisors)),
			logx.Bool("irc.token_changed", o.Token != n.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.String("notifier.cooldown", newCfg.Notifier.Cooldown),
			logx.String("notifier.join_cooldown", newCfg.Notifier.JoinCooldown),
			logx.Int("notifier.history_size", newCfg.Notifier.HistorySize),
		)
	}

	if !reflect.DeepEqual(oldCfg.Segue, newCfg.Segue) {
		changed = append(changed, "segue")
		attrs = append(attrs,
			logx.String("segue.decay", newCfg.Segue.Decay),
			logx.Int("segue.threshold", newCfg.Segue.Threshold),
			logx.String("segue.count", newCfg.Segue.Count),
			logx.String("segue.arm", newCfg.Segue.Arm),
		)
	}

	if !reflect.DeepEqual(oldCfg.Roleplay, newCfg.Roleplay) {
		changed = append(changed, "roleplay")
		attrs = append(attrs,
			logx.String("roleplay.decay", newCfg.Roleplay.Decay),
			logx.Int("roleplay.threshold", newCfg.Roleplay.Threshold),
		)
	}

	if oldCfg.Commands != newCfg.Commands {
		changed = append(changed, "commands")
		attrs = append(attrs, logx.String("commands.prefix", newCfg.Commands.Prefix))
	}

	if oldCfg.Reconnect != newCfg.Reconnect {
		changed = append(changed, "reconnect")
		attrs = append(attrs,
			logx.String("reconnect.min_backoff", newCfg.Reconnect.MinBackoff),
			logx.String("reconnect.max_backoff", newCfg.Reconnect.MaxBackoff),
		)
	}

	// Storage. Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver = strings.TrimSpace(s.Driver)
		oBusy = strings.TrimSpace(s.BusyTimeout)
		oPathSet = strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver = strings.TrimSpace(s.Driver)
		nBusy = strings.TrimSpace(s.BusyTimeout)
		nPathSet = strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Observability (never log token)
	ob, nb := oldCfg.Observability, newCfg.Observability
	if ob != nb {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", nb.Enabled),
			logx.String("observability.addr", strings.TrimSpace(nb.Addr)),
			logx.Bool("observability.token_set", strings.TrimSpace(nb.Token) != ""),
			logx.Bool("observability.pprof", nb.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.Announcements, newCfg.Announcements) {
		changed = append(changed, "announcements")
		attrs = append(attrs,
			logx.Bool("announcements.enabled", newCfg.Announcements.Enabled),
			logx.Int("announcements.count", len(newCfg.Announcements.Items)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// Deferred maps sections that do not apply live to when they do.
var Deferred = map[string]string{
	"irc":       "next connection",
	"segue":     "next connection",
	"roleplay":  "next connection",
	"commands":  "next connection",
	"reconnect": "restart",
	"storage":   "restart",
}
