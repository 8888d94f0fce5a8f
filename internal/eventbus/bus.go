// Package eventbus carries small lifecycle signals between components: sends
// and drops from the notifier, round outcomes from the rating handlers,
// connection changes from the app. Nothing on the chat data path goes
// through it; chat items travel over hubs.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the bot.
const (
	NotifierSent    = "notifier.sent"
	NotifierDropped = "notifier.dropped"
	NotifierFailed  = "notifier.failed"

	RoundReported  = "round.reported"
	RoundDiscarded = "round.discarded"

	ConnConnected    = "conn.connected"
	ConnDisconnected = "conn.disconnected"
	ConfigReloaded   = "config.reloaded"
)

// Event is a lightweight in-memory signal.
//
// Publish never blocks; a subscriber that falls behind loses events.
// Data should be small and JSON-serializable.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock so unsubscribe cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Publish is a nil-safe helper for optional buses.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}

// Recorder keeps the most recent events of a bus in memory.
type Recorder struct {
	mu     sync.Mutex
	size   int
	events []Event
}

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 100
	}
	return &Recorder{size: size}
}

// Run records events until ch closes.
func (r *Recorder) Run(ch <-chan Event) {
	for e := range ch {
		r.add(e)
	}
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	if len(r.events) > r.size {
		r.events = r.events[len(r.events)-r.size:]
	}
	r.mu.Unlock()
}

// Recent returns a copy of the recorded events, oldest first.
func (r *Recorder) Recent() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
