package app

import (
	"slices"
	"time"

	"tophourbot/internal/commands"
	"tophourbot/internal/config"
	"tophourbot/internal/dispatch"
	"tophourbot/internal/irc"
	"tophourbot/internal/rating"
	logx "tophourbot/pkg/logx"
)

// handlerSections are the config sections the handler set is built from.
var handlerSections = []string{"irc", "segue", "roleplay", "commands"}

// handlersFor returns the handler set for cfg. The set is reused across
// connections, so toggled inference survives a reconnect, and rebuilt only
// when one of its sections changed.
func (a *App) handlersFor(cfg *config.Config) ([]dispatch.Handler[irc.PrivateMessage], error) {
	a.hmu.Lock()
	defer a.hmu.Unlock()

	if a.handlers != nil {
		changed, _ := config.SummarizeConfigChange(a.handlersCfg, cfg)
		if !slices.ContainsFunc(changed, func(s string) bool { return slices.Contains(handlerSections, s) }) {
			return a.handlers, nil
		}
		a.log.Info("rebuilding handlers for changed config", logx.Any("changed", changed))
	}

	hs, err := a.buildHandlers(cfg)
	if err != nil {
		return nil, err
	}
	a.handlers, a.handlersCfg = hs, cfg
	return hs, nil
}

func (a *App) buildHandlers(cfg *config.Config) ([]dispatch.Handler[irc.PrivateMessage], error) {
	room := roomOf(cfg)
	auth := commands.Authorizer{Prefix: cfg.Commands.Prefix, Supervisors: cfg.IRC.Supervisors}
	opts := []rating.Option{
		rating.WithStore(a.store),
		rating.WithLogger(a.log.With(logx.String("comp", "rating"))),
		rating.WithMetrics(a.metrics),
		rating.WithBus(a.bus),
	}

	hs := []dispatch.Handler[irc.PrivateMessage]{
		commands.NewHandler(commands.Config{Auth: auth, CodeURL: cfg.Commands.CodeURL},
			liveLink{a}, a.store, a.log.With(logx.String("comp", "commands"))),
	}

	if sc := cfg.Segue; sc.IsEnabled() {
		decay, err := config.ParseDurationOrDefault("segue.decay", sc.Decay, defaultSegueDecay)
		if err != nil {
			return nil, err
		}
		h, err := rating.NewHandler(rating.Config{
			Room:      room,
			Infer:     sc.Inferring(),
			Decay:     decay,
			Threshold: orDefault(sc.Threshold, defaultSegueThreshold),
			Count:     rating.CountPolicy(sc.Count),
			Arm:       rating.ArmPolicy(sc.Arm),
			Key:       sc.Key,
			Auth:      auth,
		}, rating.NewSegue(sc.Nickname, a.peak, rating.RandomPick), opts...)
		if err != nil {
			return nil, err
		}
		hs = append(hs, h)
	}

	if rc := cfg.Roleplay; rc.IsEnabled() {
		decay, err := config.ParseDurationOrDefault("roleplay.decay", rc.Decay, defaultRoleplayDecay)
		if err != nil {
			return nil, err
		}
		h, err := rating.NewHandler(rating.Config{
			Room:      room,
			Infer:     rc.Inferring(),
			Decay:     decay,
			Threshold: orDefault(rc.Threshold, defaultRoleplayThreshold),
			Auth:      auth,
		}, rating.NewRoleplay(rc.Nickname, rc.Broadcaster, rc.Since, a.total, rating.RandomPick), opts...)
		if err != nil {
			return nil, err
		}
		hs = append(hs, h)
	}
	return hs, nil
}

// liveLink follows whichever connection is bound, so $ping and $uptime stay
// correct for a handler set reused across reconnects.
type liveLink struct{ a *App }

func (l liveLink) Latency() time.Duration {
	l.a.cmu.Lock()
	defer l.a.cmu.Unlock()
	if l.a.conn == nil {
		return 0
	}
	return l.a.conn.Latency()
}

func (l liveLink) ConnectedAt() time.Time {
	l.a.cmu.Lock()
	defer l.a.cmu.Unlock()
	return l.a.connAt
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
