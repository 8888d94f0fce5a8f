// Package app wires the bot together: config, logging, storage, the
// notifier, the reconnecting chat session, announcements and the
// observability endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"tophourbot/internal/config"
	"tophourbot/internal/dispatch"
	"tophourbot/internal/eventbus"
	"tophourbot/internal/irc"
	"tophourbot/internal/metrics"
	"tophourbot/internal/notifier"
	"tophourbot/internal/observability"
	"tophourbot/internal/rating"
	"tophourbot/internal/runtime/supervisor"
	"tophourbot/internal/scheduler"
	"tophourbot/internal/storage"
	"tophourbot/internal/transport"
	logx "tophourbot/pkg/logx"
	"tophourbot/pkg/systemd"
)

type Option func(*options)

type options struct {
	dialer transport.Dialer
	in     io.Reader
	out    io.Writer
}

// WithDialer replaces the transport configured in irc.transport.
func WithDialer(d transport.Dialer) Option { return func(o *options) { o.dialer = d } }

// WithConsole sets the streams of the console transport. Defaults are
// stdin and stdout.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(o *options) { o.in, o.out = in, out }
}

type App struct {
	opts options
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	events  *eventbus.Recorder
	store   storage.Store
	metrics *metrics.Metrics

	notif *notifier.Service
	sched *scheduler.Service
	obs   *observability.Service

	// Process-scoped rating state, shared by every handler set.
	peak  *rating.Peak
	total *rating.Total

	hmu         sync.Mutex
	handlers    []dispatch.Handler[irc.PrivateMessage]
	handlersCfg *config.Config

	cmu    sync.Mutex
	conn   transport.Conn
	connAt time.Time
	loop   *dispatch.Loop[irc.PrivateMessage]
	reason StopReason
}

func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{in: os.Stdin, out: os.Stdout}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateRuntime(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	m := metrics.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	ocfg, err := mapObservabilityConfig(cfg)
	if err != nil {
		return nil, err
	}

	history := cfg.Observability.EventHistory
	if history == 0 {
		history = defaultEventHistory
	}

	a := &App{
		opts:    o,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		events:  eventbus.NewRecorder(history),
		store:   store,
		metrics: m,
		notif:   notifier.New(ncfg, log.With(logx.String("comp", "notifier")), bus, m),
		sched:   scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler"))),
		peak:    rating.NewPeak(cfg.Segue.InitialPeak),
		total:   rating.NewTotal(cfg.Roleplay.InitialTotal),
		reason:  StopUnknown,
	}
	a.obs = observability.New(ocfg, observability.Sources{
		Metrics: m.Handler(),
		Ready:   a.ready,
		State: map[string]func() any{
			"supervisor": func() any { return a.supervisorState() },
			"events":     func() any { return a.events.Recent() },
			"history":    func() any { return a.notif.Snapshot() },
			"schedules":  func() any { return a.sched.Snapshot() },
			"reports":    a.recentReports,
		},
	}, log)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error,
// console input ended, or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Reason is why the app ended on its own, StopUnknown while running.
func (a *App) Reason() StopReason {
	a.cmu.Lock()
	r := a.reason
	a.cmu.Unlock()
	switch {
	case r != "" && r != StopUnknown:
		return r
	case a.Err() != nil:
		return StopFatalError
	default:
		return StopUnknown
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
		supervisor.WithRestartHook(a.metrics.Restarted),
	)
	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	cfg := a.cfgm.Get()
	lo, hi, err := mapReconnect(cfg)
	if err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.record", func(c context.Context) {
		go func() {
			<-c.Done()
			unsub()
		}()
		a.events.Run(events)
	})

	if err := a.syncAnnouncements(cfg); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())
	a.obs.Start(a.sup.Context())

	a.sup.GoRestart("irc.session", a.connect,
		supervisor.WithRestartBackoff(lo, hi),
		supervisor.WithPublishFirstError(false),
		// A clean return means the console input ended.
		supervisor.WithOnExit(a.sup.Cancel),
	)

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(250*time.Millisecond, 5*time.Second),
		supervisor.WithPublishFirstError(false),
	)
	a.sup.Go0("config.sighup", a.reloadOnHangup)

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.sup.Go0("systemd.watchdog", systemd.Watchdog)

	a.log.Info("app started", logx.String("room", roomOf(cfg)), logx.String("transport", cfg.IRC.TransportKind()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		var cancel context.CancelFunc
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			if limit > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; log when it does not.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	// The session drains its handlers before the supervisor reports done.
	step("supervisor", drainTimeout+time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// reloadLoop applies published configs. Logging, the notifier,
// announcements and observability change live; other sections wait for the
// moment listed in config.Deferred.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	if err := a.logs.Apply(mapLoggingConfig(next)); err != nil {
		a.log.Warn("log file not applied", logx.Err(err))
	}

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	a.sched.Apply(mapSchedulerConfig(next))
	if err := a.syncAnnouncements(next); err != nil {
		a.log.Warn("announcements not updated", logx.Err(err))
	}

	if ocfg, err := mapObservabilityConfig(next); err != nil {
		a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
	} else {
		a.obs.Reconfigure(ctx, ocfg)
	}

	for _, s := range sections {
		if when, ok := config.Deferred[s]; ok {
			a.log.Warn("config section changed; applies on "+when, logx.String("section", s))
		}
	}
	eventbus.Publish(a.bus, eventbus.ConfigReloaded, sections)
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// reloadOnHangup rereads the config on SIGHUP, the usual ExecReload.
func (a *App) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			published, err := a.cfgm.Reload(ctx)
			switch {
			case err != nil:
				a.log.Warn("config rejected", logx.Err(err))
			case !published:
				a.log.Info("config unchanged")
			}
		}
	}
}

// CheckConfig loads the config at path and runs every check New would,
// without opening storage or connecting.
func CheckConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		return nil, err
	}
	if err := validateRuntime(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateRuntime holds the checks that need more than the config package:
// durations mapped into components and announcement schedules.
func validateRuntime(cfg *config.Config) error {
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapObservabilityConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapReconnect(cfg); err != nil {
		return err
	}
	return validateAnnouncements(cfg)
}

// recentReports lists the newest persisted rounds of every kind.
func (a *App) recentReports() any {
	if a.store == nil {
		return []storage.Report{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reps, err := a.store.Reports(ctx, "", recentReportLimit)
	if err != nil {
		return map[string]string{"error": err.Error()}
	}
	return reps
}

// bind makes conn the live connection for writes and latency. nil unbinds.
func (a *App) bind(conn transport.Conn) {
	a.cmu.Lock()
	a.conn = conn
	a.connAt = time.Time{}
	if conn != nil {
		a.connAt = time.Now()
	}
	a.cmu.Unlock()
	a.notif.Bind(conn)
}

func (a *App) setLoop(l *dispatch.Loop[irc.PrivateMessage]) {
	a.cmu.Lock()
	a.loop = l
	a.cmu.Unlock()
}

func (a *App) setStopReason(r StopReason) {
	a.cmu.Lock()
	a.reason = r
	a.cmu.Unlock()
}

func (a *App) ready() error {
	if !a.notif.Connected() {
		return notifier.ErrNotConnected
	}
	return nil
}

// SupervisorState is served under /state/supervisor.
type SupervisorState struct {
	App      supervisor.Snapshot `json:"app"`
	Handlers supervisor.Snapshot `json:"handlers"`
}

func (a *App) supervisorState() SupervisorState {
	a.cmu.Lock()
	loop := a.loop
	a.cmu.Unlock()
	st := SupervisorState{App: a.sup.Snapshot()}
	if loop != nil {
		st.Handlers = loop.Supervisor().Snapshot()
	}
	return st
}
