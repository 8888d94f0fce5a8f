package notifier

import (
	"time"

	"tophourbot/internal/irc"
)

// Config controls the outbound cooldowns.
type Config struct {
	// Cooldown is the minimum spacing between chat messages.
	Cooldown time.Duration
	// JoinCooldown is the minimum spacing between JOINs.
	JoinCooldown time.Duration
	// WriteTimeout bounds a single transport write.
	WriteTimeout time.Duration
	HistorySize  int
}

const (
	DefaultCooldown     = 1500 * time.Millisecond
	DefaultJoinCooldown = 1500 * time.Millisecond
)

// Action is one outbound chat message.
type Action struct {
	Text string
	// Room receives the message. When ReplyTo is set and Room is empty the
	// reply goes to the room the parent was posted in.
	Room    string
	ReplyTo *irc.PrivateMessage
	// Important actions wait for their turn; others are dropped when the
	// sink is busy.
	Important bool
}

// Say is a best-effort message to a room.
func Say(room, text string) Action { return Action{Text: text, Room: room} }

// Reply is a best-effort threaded reply to m.
func Reply(m irc.PrivateMessage, text string) Action {
	return Action{Text: text, Room: m.Room, ReplyTo: &m}
}

// Line renders the action as a protocol line.
func (a Action) Line() string {
	room := a.Room
	if a.ReplyTo != nil {
		if room == "" {
			room = a.ReplyTo.Room
		}
		if a.ReplyTo.ID != "" {
			return irc.Reply(a.ReplyTo.ID, room, a.Text)
		}
	}
	return irc.Privmsg(room, a.Text)
}

type Status int

const (
	StatusSent Status = iota
	StatusDropped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDropped:
		return "dropped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one dispatched action. Dropped is not an error.
type Outcome struct {
	Status Status
	Err    error
}

type HistoryItem struct {
	At   time.Time
	Room string
	Text string
}

// ActionEvent is published on the event bus for sent, dropped and failed
// actions.
type ActionEvent struct {
	Room      string `json:"room"`
	Text      string `json:"text"`
	Important bool   `json:"important"`
	Error     string `json:"error,omitempty"`
}
