package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"tophourbot/internal/config"
	"tophourbot/internal/irc"
	"tophourbot/internal/notifier"
	"tophourbot/internal/observability"
	"tophourbot/internal/scheduler"
	"tophourbot/internal/storage"
	"tophourbot/internal/transport"
	"tophourbot/internal/transport/console"
	"tophourbot/internal/transport/websocket"
	logx "tophourbot/pkg/logx"
)

const (
	defaultWelcomeTimeout = 10 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultMinBackoff     = time.Second
	defaultMaxBackoff     = 2 * time.Minute
	defaultEventHistory   = 100
	recentReportLimit     = 20

	defaultSegueDecay        = 8500 * time.Millisecond
	defaultSegueThreshold    = 40
	defaultRoleplayDecay     = 7500 * time.Millisecond
	defaultRoleplayThreshold = 20
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	cooldown, err := config.ParseDurationOrDefault("notifier.cooldown", nc.Cooldown, notifier.DefaultCooldown)
	if err != nil {
		return notifier.Config{}, err
	}
	joinCooldown, err := config.ParseDurationOrDefault("notifier.join_cooldown", nc.JoinCooldown, notifier.DefaultJoinCooldown)
	if err != nil {
		return notifier.Config{}, err
	}
	writeTimeout, err := config.ParseDurationOrDefault("notifier.write_timeout", nc.WriteTimeout, 5*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	history := nc.HistorySize
	if history == 0 {
		history = 50
	}
	return notifier.Config{
		Cooldown:     cooldown,
		JoinCooldown: joinCooldown,
		WriteTimeout: writeTimeout,
		HistorySize:  history,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver, err := storage.Driver(sc.Driver)
	if err != nil || driver == "" {
		return storage.Config{}, false, err
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	oc := cfg.Observability
	read, err := config.ParseDurationOrDefault("observability.read_timeout", oc.ReadTimeout, 5*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	// 0 keeps long pprof profiles working.
	write, err := config.ParseDurationField("observability.write_timeout", oc.WriteTimeout)
	if err != nil {
		return observability.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("observability.idle_timeout", oc.IdleTimeout, 60*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	addr := strings.TrimSpace(oc.Addr)
	if addr == "" {
		addr = observability.DefaultAddr
	}
	return observability.Config{
		Enabled:       oc.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Announcements.Timezone)}
}

func mapReconnect(cfg *config.Config) (time.Duration, time.Duration, error) {
	lo, err := config.ParseDurationOrDefault("reconnect.min_backoff", cfg.Reconnect.MinBackoff, defaultMinBackoff)
	if err != nil {
		return 0, 0, err
	}
	hi, err := config.ParseDurationOrDefault("reconnect.max_backoff", cfg.Reconnect.MaxBackoff, defaultMaxBackoff)
	if err != nil {
		return 0, 0, err
	}
	return lo, max(lo, hi), nil
}

func welcomeTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("irc.welcome_timeout", cfg.IRC.WelcomeTimeout, defaultWelcomeTimeout)
	if err != nil {
		return defaultWelcomeTimeout
	}
	return d
}

// newDialer builds the transport for cfg. The console transport reads in
// and writes out.
func newDialer(cfg *config.Config, in io.Reader, out io.Writer, log logx.Logger) (transport.Dialer, error) {
	ic := cfg.IRC
	if ic.TransportKind() == "console" {
		return console.NewDialer(console.Config{Room: roomOf(cfg), User: "console"}, in, out), nil
	}
	handshake, err := config.ParseDurationOrDefault("irc.handshake_timeout", ic.HandshakeTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ping, err := config.ParseDurationOrDefault("irc.ping_interval", ic.PingInterval, defaultPingInterval)
	if err != nil {
		return nil, err
	}
	write, err := config.ParseDurationOrDefault("notifier.write_timeout", cfg.Notifier.WriteTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return websocket.NewDialer(websocket.Config{
		URL:              strings.TrimSpace(ic.URL),
		HandshakeTimeout: handshake,
		WriteTimeout:     write,
		PingInterval:     ping,
	}, log), nil
}

func roomOf(cfg *config.Config) string { return irc.NormalizeRoom(cfg.IRC.Room) }
