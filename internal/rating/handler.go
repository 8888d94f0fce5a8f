package rating

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tophourbot/internal/commands"
	"tophourbot/internal/dispatch"
	"tophourbot/internal/eventbus"
	"tophourbot/internal/irc"
	"tophourbot/internal/metrics"
	"tophourbot/internal/notifier"
	"tophourbot/internal/storage"
	"tophourbot/internal/stream"
	logx "tophourbot/pkg/logx"
)

const DefaultKey = "DANKIES"

type Config struct {
	Room string
	// Infer starts rounds from chat activity. Manual rounds work either way.
	Infer     bool
	Decay     time.Duration
	Threshold int
	Count     CountPolicy
	Arm       ArmPolicy
	// Key is a regular expression that must match for ArmKey to open a round.
	Key  string
	Auth commands.Authorizer
}

type Option func(*Handler)

func WithStore(st storage.Store) Option        { return func(h *Handler) { h.store = st } }
func WithLogger(log logx.Logger) Option        { return func(h *Handler) { h.log = log } }
func WithMetrics(m *metrics.Metrics) Option    { return func(h *Handler) { h.metrics = m } }
func WithBus(b eventbus.Bus) Option            { return func(h *Handler) { h.bus = b } }
func WithReportTimeout(d time.Duration) Option { return func(h *Handler) { h.reportTimeout = d } }

// Handler runs aggregation rounds of one scale over the room's messages and
// answers that scale's moderator commands ($segue ..., $roleplay ...).
//
// At most one round is live at a time. The handler only offers votes; each
// round runs in its own goroutine and announces itself when it concludes.
type Handler struct {
	cfg   Config
	scale Scale
	key   *regexp.Regexp

	store         storage.Store
	log           logx.Logger
	metrics       *metrics.Metrics
	bus           eventbus.Bus
	reportTimeout time.Duration

	infer atomic.Bool

	mu      sync.Mutex
	round   *Round
	stopped bool
	wg      sync.WaitGroup
}

func NewHandler(cfg Config, scale Scale, opts ...Option) (*Handler, error) {
	if cfg.Decay <= 0 {
		return nil, fmt.Errorf("%s: decay must be positive", scale.Kind())
	}
	if cfg.Count == "" {
		cfg.Count = CountMessages
	}
	if cfg.Arm == "" {
		cfg.Arm = ArmRating
	}
	h := &Handler{cfg: cfg, scale: scale, reportTimeout: 5 * time.Second}
	if cfg.Arm == ArmKey {
		key := cfg.Key
		if key == "" {
			key = DefaultKey
		}
		re, err := regexp.Compile(key)
		if err != nil {
			return nil, fmt.Errorf("%s: key: %w", scale.Kind(), err)
		}
		h.key = re
	}
	for _, o := range opts {
		o(h)
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	h.log = h.log.With(logx.String("handler", scale.Kind()))
	h.infer.Store(cfg.Infer)
	return h, nil
}

func (h *Handler) Name() string { return h.scale.Kind() }

// Inferring reports whether rounds start from chat activity.
func (h *Handler) Inferring() bool { return h.infer.Load() }

// State is the state of the live round, Idle without one.
func (h *Handler) State() State {
	if r := h.current(); r != nil {
		return r.State()
	}
	return Idle
}

func (h *Handler) current() *Round {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.round == nil || !h.round.Live() {
		return nil
	}
	return h.round
}

// Run reads messages until in ends. Rounds still collecting at that point
// conclude with what they have.
func (h *Handler) Run(ctx context.Context, in stream.Stream[irc.PrivateMessage], out dispatch.Output) error {
	h.mu.Lock()
	h.stopped = false
	h.mu.Unlock()
	defer h.wg.Wait()
	defer h.stop()

	for {
		m, ok := in.Next(ctx)
		if !ok {
			return nil
		}
		if cmd, ok := h.cfg.Auth.Match(m); ok {
			if cmd.Name == h.scale.Kind() {
				h.command(ctx, m, cmd, out)
			}
			continue
		}

		v, ok := h.scale.Extract(m.Text)
		if !ok {
			continue
		}
		vote := Vote{Sender: m.Sender, Value: v, At: m.ReceivedAt, arms: h.arms(m.Text)}
		if vote.At.IsZero() {
			vote.At = time.Now()
		}
		if r := h.current(); r != nil && r.Offer(vote) {
			continue
		}
		if !h.infer.Load() || !vote.arms {
			continue
		}
		h.start(ctx, out, h.inferred(), vote)
	}
}

func (h *Handler) inferred() RoundConfig {
	return RoundConfig{Decay: h.cfg.Decay, Threshold: h.cfg.Threshold, Count: h.cfg.Count}
}

func (h *Handler) arms(text string) bool {
	return h.cfg.Arm != ArmKey || h.key.MatchString(text)
}

func (h *Handler) stop() {
	h.mu.Lock()
	h.stopped = true
	r := h.round
	h.mu.Unlock()
	if r != nil {
		r.Stop()
	}
}

// start opens a round seeded with votes. If another round went live first the
// seeds join it instead, and start reports false. Nothing starts once the
// handler is stopping.
func (h *Handler) start(ctx context.Context, out dispatch.Output, cfg RoundConfig, seeds ...Vote) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	if live := h.round; live != nil && live.Live() {
		h.mu.Unlock()
		for _, v := range seeds {
			live.Offer(v)
		}
		return false
	}
	r := NewRound(cfg)
	for _, v := range seeds {
		r.Offer(v)
	}
	h.round = r
	h.wg.Add(1)
	h.mu.Unlock()
	h.log.Debug("round started", logx.Bool("manual", cfg.Manual), logx.Duration("decay", cfg.Decay), logx.Int("threshold", cfg.Threshold))

	go func() {
		defer h.wg.Done()
		h.conclude(ctx, r, out)
	}()
	return true
}

// rearm treats votes that arrived as a round closed like any other vote after
// it: the first one able to open a round starts the next one.
func (h *Handler) rearm(ctx context.Context, out dispatch.Output, late []Vote) {
	if ctx.Err() != nil || !h.infer.Load() {
		return
	}
	for i, v := range late {
		if v.arms {
			h.log.Debug("late votes rearm", logx.Int("votes", len(late)-i))
			h.start(ctx, out, h.inferred(), late[i:]...)
			return
		}
	}
}

func (h *Handler) conclude(ctx context.Context, r *Round, out dispatch.Output) {
	kind := h.scale.Kind()
	t, ok := r.Run(ctx)
	h.rearm(ctx, out, r.Late())
	if !ok {
		h.metrics.Round(kind, "discarded", t.Count)
		eventbus.Publish(h.bus, eventbus.RoundDiscarded, RoundEvent{Kind: kind, Count: t.Count})
		h.log.Debug("round discarded", logx.Int("count", t.Count), logx.Int("threshold", r.Config().Threshold))
		return
	}

	text, value := h.scale.Report(t)
	h.metrics.Round(kind, "reported", t.Count)
	h.metrics.Reported(kind, value)
	eventbus.Publish(h.bus, eventbus.RoundReported, RoundEvent{Kind: kind, Count: t.Count, Value: value})
	h.log.Info("round reported", logx.Int("count", t.Count), logx.Float64("value", value))

	out.Emit(notifier.Action{Text: text, Room: h.cfg.Room, Important: true})
	h.persist(storage.NewReport(kind, h.cfg.Room, value, t.Count, t.First))
}

// persist hands rep to the store without holding up the handler.
func (h *Handler) persist(rep storage.Report) {
	if h.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.reportTimeout)
		defer cancel()
		err := h.store.PutReport(ctx, rep)
		h.metrics.Persisted(err == nil)
		if err != nil {
			h.log.Warn("report not persisted", logx.String("session", rep.SessionID.String()), logx.Err(err))
		}
	}()
}

// RoundEvent is published when a round concludes.
type RoundEvent struct {
	Kind  string  `json:"kind"`
	Count int     `json:"count"`
	Value float64 `json:"value,omitempty"`
}

func (h *Handler) command(ctx context.Context, m irc.PrivateMessage, cmd commands.Command, out dispatch.Output) {
	labels := h.scale.Labels()
	sub := strings.ToLower(cmd.Arg(0))

	var reply string
	var err error
	switch sub {
	case "infer":
		on := !h.infer.Load()
		h.infer.Store(on)
		reply = fmt.Sprintf("%s has been toggled %s", labels.Inference, onOff(on))
	case "start":
		decay := h.cfg.Decay
		if raw := cmd.Arg(1); raw != "" {
			decay, err = parseDecay(raw)
			if err != nil {
				reply = fmt.Sprintf("Could not parse decay '%s' as number", raw)
				break
			}
		}
		if h.current() != nil || !h.start(ctx, out, RoundConfig{Decay: decay, Manual: true, Count: h.cfg.Count}) {
			reply = fmt.Sprintf("%s are already being tallied", labels.Tally)
			break
		}
		reply = fmt.Sprintf("%s are now tallying with decay time of %.2f seconds", labels.Tally, decay.Seconds())
	case "stop":
		if r := h.current(); r != nil && r.Stop() {
			reply = fmt.Sprintf("%s have stopped tallying", labels.Tally)
		} else {
			reply = fmt.Sprintf("%s were not tallying", labels.Tally)
		}
	default:
		var ok bool
		if reply, ok = h.scale.Query(sub); !ok {
			return
		}
	}

	commands.Audit(h.store, h.log, m, cmd, err)
	out.Emit(notifier.Action{Text: reply, ReplyTo: &m, Important: true})
}

func parseDecay(raw string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if secs <= 0 || math.IsInf(secs, 0) || math.IsNaN(secs) {
		return 0, fmt.Errorf("decay %q out of range", raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
