package rating

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"tophourbot/internal/hub"
	"tophourbot/internal/stream"
)

// State of a round, or of a handler between rounds (Idle).
type State int32

const (
	Idle State = iota
	Armed
	Collecting
	Reporting
	Discarded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Collecting:
		return "collecting"
	case Reporting:
		return "reporting"
	case Discarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// CountPolicy decides which rating messages count as contributors.
type CountPolicy string

const (
	// CountMessages counts every rating message.
	CountMessages CountPolicy = "messages"
	// CountUnique counts the first rating of each sender per round.
	CountUnique CountPolicy = "unique"
)

// ArmPolicy decides which message may open a round.
type ArmPolicy string

const (
	// ArmRating opens a round on any rating.
	ArmRating ArmPolicy = "rating"
	// ArmKey opens a round only on a rating that comes with the key emote.
	ArmKey ArmPolicy = "key"
)

type RoundConfig struct {
	// Decay is how long the round waits for the next vote.
	Decay     time.Duration
	Threshold int
	// Manual rounds wait indefinitely for their first vote.
	Manual bool
	Count  CountPolicy
}

// Round is one aggregation round. Votes are offered through its own hub, so
// the round goroutine owns every piece of round state.
type Round struct {
	cfg     RoundConfig
	votes   *hub.Diverter[Vote]
	ch      *hub.Channel[Vote]
	state   atomic.Int32
	started time.Time
}

// NewRound returns an armed round that accepts offers immediately.
func NewRound(cfg RoundConfig) *Round {
	if cfg.Count == "" {
		cfg.Count = CountMessages
	}
	votes := hub.New[Vote]()
	r := &Round{cfg: cfg, votes: votes, ch: votes.Attach(), started: time.Now()}
	r.state.Store(int32(Armed))
	return r
}

func (r *Round) Config() RoundConfig { return r.cfg }
func (r *Round) Started() time.Time  { return r.started }
func (r *Round) State() State        { return State(r.state.Load()) }

// Live reports whether the round still accepts votes.
func (r *Round) Live() bool { return !r.votes.Closed() }

// Offer hands v to the round. It reports false once the round stopped
// collecting.
func (r *Round) Offer(v Vote) bool {
	return r.votes.Distribute(v) > 0
}

// Stop ends collection; votes already offered still count. It reports false
// if the round had already stopped.
func (r *Round) Stop() bool {
	if r.votes.Closed() {
		return false
	}
	r.votes.Close()
	return true
}

// Late returns the votes accepted but never collected, in arrival order:
// offers that raced the decay deadline or ctx. Call it after Run.
func (r *Round) Late() []Vote {
	r.votes.Close()
	var late []Vote
	for {
		v, ok := r.ch.Recv(context.Background())
		if !ok {
			return late
		}
		late = append(late, v)
	}
}

// Run collects votes until the decay window passes without one, Stop is
// called, or ctx ends. It reports whether the round reached its threshold.
// An empty round never does.
func (r *Round) Run(ctx context.Context) (Tally, bool) {
	defer r.votes.Close()

	var votes stream.Stream[Vote] = r.ch.Stream()
	if r.cfg.Count == CountUnique {
		votes = stream.Filter(votes, firstPerSender())
	}
	if r.cfg.Manual {
		votes = stream.Decay(votes, r.cfg.Decay)
	} else {
		votes = stream.Timeout(votes, r.cfg.Decay, false)
	}

	res := stream.Reduce(ctx, votes, Tally{}, func(t Tally, v Vote) Tally {
		r.state.Store(int32(Collecting))
		return t.Add(v)
	})
	r.votes.Close()

	if res.Initial || res.Value.Count < r.cfg.Threshold {
		r.state.Store(int32(Discarded))
		return res.Value, false
	}
	r.state.Store(int32(Reporting))
	return res.Value, true
}

func firstPerSender() func(Vote) bool {
	seen := map[string]struct{}{}
	return func(v Vote) bool {
		if _, ok := seen[v.Sender]; ok {
			return false
		}
		seen[v.Sender] = struct{}{}
		return true
	}
}
