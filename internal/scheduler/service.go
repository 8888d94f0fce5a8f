package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "tophourbot/pkg/logx"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "America/Los_Angeles"
}

// Job is one scheduled run.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	// guarded by Service.smu
	runs     uint64
	failures uint64
	lastErr  string
	lastRun  time.Time
}

type ScheduleInfo struct {
	Name      string        `json:"name"`
	Spec      string        `json:"spec"`
	Kind      string        `json:"kind"`
	Timeout   time.Duration `json:"timeout"`
	Next      time.Time     `json:"next,omitzero"`
	Prev      time.Time     `json:"prev,omitzero"`
	Runs      uint64        `json:"runs"`
	Failures  uint64        `json:"failures"`
	LastError string        `json:"last_error,omitempty"`
}

type Snapshot struct {
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	loc  *time.Location
	base context.Context

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	smu sync.Mutex // run stats
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		parser: cronParser,
	}
}

// Apply swaps the config. A timezone change restarts a running cron with
// every schedule re-registered.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

// Start starts triggering. Jobs run with contexts derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base = ctx
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop stops triggering and waits for running jobs until ctx ends.
// Definitions remain so they resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// AddSchedule registers job under name, replacing any job of that name.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: ps, timeout: timeout, job: job}
	s.defs = append(s.defs, d)
	if s.c == nil {
		return nil
	}
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", ps.CronSpec()),
		logx.Time("next", s.c.Entry(d.entryID).Next))
	return nil
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Names lists the registered schedules.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d.name)
	}
	return out
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	clear(s.defs[n:])
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	base := s.base
	if base == nil {
		base = context.Background()
	}
	job := cron.FuncJob(func() { s.run(base, d) })
	if d.spec.Kind == SpecInterval {
		sched, jitter := intervalWithSpread(d.spec.Every, time.Now().In(s.loc), d.name)
		d.entryID = s.c.Schedule(sched, job)
		s.log.Debug("interval spread", logx.String("name", d.name), logx.Duration("jitter", jitter))
		return nil
	}
	id, err := s.c.AddJob(d.spec.Cron, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) run(base context.Context, d *scheduleDef) {
	ctx, cancel := base, context.CancelFunc(func() {})
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(base, d.timeout)
	}
	defer cancel()

	start := time.Now()
	err := d.job(ctx)

	s.smu.Lock()
	d.runs++
	d.lastRun = start
	if err != nil {
		d.failures++
		d.lastErr = err.Error()
	} else {
		d.lastErr = ""
	}
	s.smu.Unlock()

	if err != nil {
		s.log.Warn("scheduled job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("scheduled job done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.startLocked()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	snap := Snapshot{Running: s.c != nil, Timezone: loc.String(), Schedules: make([]ScheduleInfo, 0, len(s.defs))}

	s.smu.Lock()
	defer s.smu.Unlock()
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:      d.name,
			Spec:      d.spec.CronSpec(),
			Kind:      d.spec.Kind.String(),
			Timeout:   d.timeout,
			Runs:      d.runs,
			Failures:  d.failures,
			LastError: d.lastErr,
			Prev:      d.lastRun,
		}
		if s.c != nil && d.entryID != 0 {
			it.Next = s.c.Entry(d.entryID).Next
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	return snap
}

// cronLogger routes cron's own logging (recovered panics, skipped runs)
// into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
