package config

// Config is the bot configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "8.5s", "1m").
// Omitted or zero values fall back to the documented defaults.
type Config struct {
	IRC           IRCConfig           `json:"irc"`
	Logging       LoggingConfig       `json:"logging"`
	Notifier      NotifierConfig      `json:"notifier"`
	Segue         SegueConfig         `json:"segue"`
	Roleplay      RoleplayConfig      `json:"roleplay"`
	Commands      CommandsConfig      `json:"commands"`
	Reconnect     ReconnectConfig     `json:"reconnect"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Observability ObservabilityConfig `json:"observability"`
	Announcements AnnouncementsConfig `json:"announcements"`
}

// IRCConfig describes the chat connection.
//
// Example:
//
//	"irc": { "nick": "tophourbot", "token": "abc123", "room": "#hasanabi" }
type IRCConfig struct {
	// Transport is "websocket" (default) or "console" for local testing.
	Transport string `json:"transport,omitempty" validate:"omitempty,oneof=websocket console"`
	URL       string `json:"url,omitempty" validate:"omitempty,url"`
	Nick      string `json:"nick" validate:"required"`
	// Token is the OAuth token, with or without the "oauth:" prefix (do not log).
	Token string `json:"token" validate:"required_unless=Transport console"`
	Room  string `json:"room" validate:"required"`
	// Bots are senders whose messages are never read (other chat bots).
	Bots []string `json:"bots,omitempty"`
	// Supervisors may run moderator commands without being moderators.
	Supervisors []string `json:"supervisors,omitempty"`

	HandshakeTimeout string `json:"handshake_timeout,omitempty" validate:"omitempty,duration"`
	// PingInterval drives websocket pings used for latency. Default "30s".
	PingInterval string `json:"ping_interval,omitempty" validate:"omitempty,duration"`
	// WelcomeTimeout bounds the wait for the server's welcome after login.
	WelcomeTimeout string `json:"welcome_timeout,omitempty" validate:"omitempty,duration"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// NotifierConfig controls the outbound cooldowns.
//
// Defaults: cooldown "1.5s", join_cooldown "1.5s", write_timeout "5s",
// history_size 50.
type NotifierConfig struct {
	Cooldown     string `json:"cooldown,omitempty" validate:"omitempty,duration"`
	JoinCooldown string `json:"join_cooldown,omitempty" validate:"omitempty,duration"`
	WriteTimeout string `json:"write_timeout,omitempty" validate:"omitempty,duration"`
	HistorySize  int    `json:"history_size,omitempty" validate:"min=0,max=10000"`
}

// SegueConfig controls ad segue rating rounds.
//
// Enabled and Infer are pointers so an omitted key keeps the default (true)
// while an explicit false is honored.
//
// Defaults: decay "8.5s", threshold 40, count "messages", arm "rating",
// key "DANKIES".
type SegueConfig struct {
	Enabled   *bool  `json:"enabled,omitempty"`
	Infer     *bool  `json:"infer,omitempty"`
	Decay     string `json:"decay,omitempty" validate:"omitempty,duration"`
	Threshold int    `json:"threshold,omitempty" validate:"min=0"`
	// Count is "messages" (every rating counts) or "unique" (first per sender).
	Count string `json:"count,omitempty" validate:"omitempty,oneof=messages unique"`
	// Arm is "rating" (any rating opens a round) or "key" (a rating next to Key).
	Arm string `json:"arm,omitempty" validate:"omitempty,oneof=rating key"`
	Key string `json:"key,omitempty"`
	// Nickname is how announcements address the streamer.
	Nickname    string  `json:"nickname,omitempty"`
	InitialPeak float64 `json:"initial_peak,omitempty" validate:"min=0,max=10"`
}

// RoleplayConfig controls roleplay +1/-1 rounds.
//
// Defaults: decay "7.5s", threshold 20.
type RoleplayConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	Infer        *bool  `json:"infer,omitempty"`
	Decay        string `json:"decay,omitempty" validate:"omitempty,duration"`
	Threshold    int    `json:"threshold,omitempty" validate:"min=0"`
	Nickname     string `json:"nickname,omitempty"`
	Broadcaster  string `json:"broadcaster,omitempty"`
	Since        string `json:"since,omitempty"`
	InitialTotal int    `json:"initial_total,omitempty"`
}

type CommandsConfig struct {
	// Prefix starts a command. Default "$".
	Prefix  string `json:"prefix,omitempty" validate:"omitempty,max=4"`
	CodeURL string `json:"code_url,omitempty" validate:"omitempty,url"`
}

// ReconnectConfig bounds the jittered exponential backoff between
// connection attempts. Defaults: min "1s", max "2m".
type ReconnectConfig struct {
	MinBackoff string `json:"min_backoff,omitempty" validate:"omitempty,duration"`
	MaxBackoff string `json:"max_backoff,omitempty" validate:"omitempty,duration"`
}

// StorageConfig controls the optional report store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tophourbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"omitempty,duration"` // sqlite
}

// ObservabilityConfig controls the optional HTTP endpoint serving metrics,
// health, debug snapshots and pprof.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	// Server timeouts. WriteTimeout defaults to 0 (disabled) so pprof
	// profiles (30s+) work.
	ReadTimeout  string `json:"read_timeout,omitempty" validate:"omitempty,duration"`
	WriteTimeout string `json:"write_timeout,omitempty" validate:"omitempty,duration"`
	IdleTimeout  string `json:"idle_timeout,omitempty" validate:"omitempty,duration"`

	// EventHistory is how many bus events /state/events keeps. Default 100.
	EventHistory int `json:"event_history,omitempty" validate:"min=0,max=10000"`
}

// AnnouncementsConfig schedules fixed chat messages.
type AnnouncementsConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone for cron schedules (IANA name). Default local.
	Timezone string         `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Items    []Announcement `json:"items,omitempty" validate:"dive"`
}

// Announcement is one scheduled message.
//
// Schedule accepts cron ("0 * * * *", "@hourly"), a Go duration ("55m")
// or HH:MM ("01:30").
type Announcement struct {
	Name     string `json:"name" validate:"required"`
	Schedule string `json:"schedule" validate:"required"`
	Text     string `json:"text" validate:"required,max=500"`
	// Important announcements wait for the cooldown instead of being dropped.
	Important bool `json:"important,omitempty"`
}
