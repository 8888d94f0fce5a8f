package irc

import (
	"strconv"
	"strings"
	"time"
)

// Item is the typed form of an inbound line. It is one of Ping,
// PrivateMessage or Other; values are immutable once built.
type Item interface {
	isItem()
}

// Ping is a server keep-alive. The connection answers it; handlers never see it.
type Ping struct {
	Token string
}

// PrivateMessage is a chat message in a room.
type PrivateMessage struct {
	ID          string
	Room        string // "#name", lowercase
	Sender      string // login name, lowercase
	DisplayName string
	Text        string
	Moderator   bool
	Broadcaster bool
	// SentAt is the server timestamp (tmi-sent-ts); zero when absent.
	SentAt     time.Time
	ReceivedAt time.Time
}

// Other is any line the core does not act on. It is not an error.
type Other struct {
	Message Message
	Raw     string
}

func (Ping) isItem()           {}
func (PrivateMessage) isItem() {}
func (Other) isItem()          {}

// Parse turns a raw line into an Item. Malformed lines become Other.
func Parse(line string, receivedAt time.Time) Item {
	m, err := ParseMessage(line)
	if err != nil {
		return Other{Raw: line}
	}
	return Classify(m, receivedAt)
}

// Classify maps a parsed message to its Item.
func Classify(m Message, receivedAt time.Time) Item {
	switch m.Command {
	case "PING":
		return Ping{Token: m.Trailing()}
	case "PRIVMSG":
		if len(m.Params) < 2 {
			return Other{Message: m}
		}
		return privateMessage(m, receivedAt)
	default:
		return Other{Message: m}
	}
}

func privateMessage(m Message, receivedAt time.Time) PrivateMessage {
	text := m.Trailing()
	// "/me" actions arrive wrapped in CTCP ACTION markers.
	if strings.HasPrefix(text, "\x01ACTION ") && strings.HasSuffix(text, "\x01") {
		text = strings.TrimSuffix(strings.TrimPrefix(text, "\x01ACTION "), "\x01")
	}

	pm := PrivateMessage{
		ID:          m.Tags["id"],
		Room:        NormalizeRoom(m.Param(0)),
		Sender:      strings.ToLower(m.Nick()),
		DisplayName: m.Tags["display-name"],
		Text:        text,
		Moderator:   m.Tags["mod"] == "1",
		Broadcaster: hasBadge(m.Tags["badges"], "broadcaster"),
		ReceivedAt:  receivedAt,
	}
	if pm.DisplayName == "" {
		pm.DisplayName = pm.Sender
	}
	if ms, err := strconv.ParseInt(m.Tags["tmi-sent-ts"], 10, 64); err == nil {
		pm.SentAt = time.UnixMilli(ms)
	}
	return pm
}

func hasBadge(badges, name string) bool {
	for _, b := range strings.Split(badges, ",") {
		if n, _, _ := strings.Cut(b, "/"); n == name {
			return true
		}
	}
	return false
}

// NormalizeRoom lowercases a room name and ensures the leading '#'.
func NormalizeRoom(room string) string {
	room = strings.ToLower(strings.TrimSpace(room))
	if room == "" || strings.HasPrefix(room, "#") {
		return room
	}
	return "#" + room
}

// ---- outbound builders ----

// Privmsg builds a PRIVMSG to room.
func Privmsg(room, text string) string {
	return "PRIVMSG " + NormalizeRoom(room) + " :" + sanitize(text)
}

// Reply builds a PRIVMSG threaded under the message with id parentID.
func Reply(parentID, room, text string) string {
	if parentID == "" {
		return Privmsg(room, text)
	}
	return "@reply-parent-msg-id=" + escapeTag(parentID) + " " + Privmsg(room, text)
}

func Pong(token string) string { return "PONG :" + token }

func Join(room string) string { return "JOIN " + NormalizeRoom(room) }
func Part(room string) string { return "PART " + NormalizeRoom(room) }

// CapReq requests capabilities in a single line.
func CapReq(caps ...string) string {
	return "CAP REQ :" + strings.Join(caps, " ")
}

// Pass builds the login PASS line. Twitch expects the token as "oauth:<token>".
func Pass(token string) string {
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	return "PASS " + token
}

func Nick(nick string) string { return "NICK " + strings.ToLower(nick) }

// sanitize keeps a chat message on one line.
func sanitize(text string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(text)
}
