package rating

import (
	"math"
	"sync"
	"time"
)

// Vote is one counted rating.
type Vote struct {
	Sender string
	Value  float64
	At     time.Time

	arms bool // the message could open a round on its own
}

// Tally accumulates the votes of one round.
type Tally struct {
	Sum   float64
	Count int
	First time.Time
	Last  time.Time
}

func (t Tally) Add(v Vote) Tally {
	if t.Count == 0 {
		t.First = v.At
	}
	t.Sum += v.Value
	t.Count++
	t.Last = v.At
	return t
}

// Mean is Sum/Count, NaN for an empty tally.
func (t Tally) Mean() float64 {
	if t.Count == 0 {
		return math.NaN()
	}
	return t.Sum / float64(t.Count)
}

// Peak is the highest reported average of the process lifetime.
type Peak struct {
	mu    sync.Mutex
	value float64
	set   bool
}

// NewPeak seeds the peak. A zero seed means no peak yet.
func NewPeak(seed float64) *Peak {
	p := &Peak{}
	if seed > 0 {
		p.value, p.set = seed, true
	}
	return p
}

// Observe records avg and reports whether it beat an existing peak. The very
// first observation sets the peak but is not reported as a new best.
func (p *Peak) Observe(avg float64) (best bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.set {
		p.value, p.set = avg, true
		return false
	}
	if avg > p.value {
		p.value = avg
		return true
	}
	return false
}

func (p *Peak) Value() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.set
}

// Total is a cumulative score.
type Total struct {
	mu    sync.Mutex
	value int
}

func NewTotal(seed int) *Total { return &Total{value: seed} }

// Add applies delta and returns the new total.
func (t *Total) Add(delta int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value += delta
	return t.value
}

func (t *Total) Value() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}
