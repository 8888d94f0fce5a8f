package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tophourbot/internal/config"
	"tophourbot/internal/irc"
	"tophourbot/internal/notifier"
	"tophourbot/internal/storage"
	"tophourbot/internal/transport"
)

// fakeConn plays a chat server: it welcomes the bot after NICK and lets
// the test push inbound lines.
type fakeConn struct {
	in      chan string
	closed  chan struct{}
	once    sync.Once
	welcome string

	mu   sync.Mutex
	sent []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan string, 64),
		closed:  make(chan struct{}),
		welcome: ":tmi.twitch.tv 001 tophourbot :Welcome, GLHF!",
	}
}

func (c *fakeConn) Receive(ctx context.Context) (string, error) {
	select {
	case line := <-c.in:
		return line, nil
	case <-c.closed:
		return "", transport.ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *fakeConn) Send(_ context.Context, line string) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, line)
	c.mu.Unlock()
	if strings.HasPrefix(line, "NICK ") {
		c.in <- c.welcome
	}
	return nil
}

func (c *fakeConn) Latency() time.Duration { return 42 * time.Millisecond }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeConn) hasSent(prefix string) bool {
	for _, l := range c.lines() {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

func privmsg(sender, text string) string {
	return "@id=" + sender + "-1;mod=0 :" + sender + "!" + sender + "@" + sender + ".tmi.twitch.tv PRIVMSG #hasanabi :" + text
}

func writeConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func baseConfig() map[string]any {
	return map[string]any{
		"irc": map[string]any{
			"nick":  "tophourbot",
			"token": "abc123",
			"room":  "#hasanabi",
			"bots":  []string{"Nightbot"},
		},
		"logging":   map[string]any{"level": "error"},
		"notifier":  map[string]any{"cooldown": "10ms", "join_cooldown": "10ms"},
		"segue":     map[string]any{"threshold": 3, "decay": "200ms", "nickname": "Hasan"},
		"roleplay":  map[string]any{"enabled": false},
		"reconnect": map[string]any{"min_backoff": "10ms", "max_backoff": "50ms"},
	}
}

func TestSessionLogsInRatesAndReconnects(t *testing.T) {
	var dials atomic.Int32
	conns := make(chan *fakeConn, 4)
	dialer := transport.DialerFunc(func(context.Context) (transport.Conn, error) {
		dials.Add(1)
		c := newFakeConn()
		conns <- c
		return c, nil
	})

	a, err := New(writeConfig(t, baseConfig()), WithDialer(dialer))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopSignal)
	}()

	var c *fakeConn
	select {
	case c = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no dial")
	}
	require.Eventually(t, func() bool { return c.hasSent("JOIN #hasanabi") }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		"CAP REQ :twitch.tv/commands twitch.tv/membership twitch.tv/tags",
		"PASS oauth:abc123",
		"NICK tophourbot",
		"JOIN #hasanabi",
	}, c.lines())
	assert.NoError(t, a.ready())

	c.in <- "PING :tmi.twitch.tv"
	require.Eventually(t, func() bool { return c.hasSent("PONG :tmi.twitch.tv") }, 2*time.Second, 5*time.Millisecond)

	// Our own and other bots' messages never count.
	c.in <- privmsg("tophourbot", "0/10")
	c.in <- privmsg("nightbot", "0/10")
	c.in <- privmsg("alice", "7/10")
	c.in <- privmsg("bob", "8/10")
	c.in <- privmsg("carol", "9/10")

	const report = "PRIVMSG #hasanabi :DANKIES 🔔 3 chatters rated this ad segue an average of 8.00/10"
	require.Eventually(t, func() bool { return c.hasSent(report) }, 3*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, a.notif.Snapshot())

	// A dropped connection is redialed and the room rejoined.
	_ = c.Close()
	var c2 *fakeConn
	select {
	case c2 = <-conns:
	case <-time.After(3 * time.Second):
		t.Fatal("no redial")
	}
	require.Eventually(t, func() bool { return c2.hasSent("JOIN #hasanabi") }, 3*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, dials.Load())

	// The peak survives the reconnect.
	c2.in <- privmsg("dave", "5/10")
	c2.in <- privmsg("erin", "5/10")
	c2.in <- privmsg("frank", "5/10")
	require.Eventually(t, func() bool {
		return c2.hasSent("PRIVMSG #hasanabi :DANKIES 🔔 3 chatters rated this ad segue an average of 5.00/10")
	}, 3*time.Second, 10*time.Millisecond)
	peak, ok := a.peak.Value()
	require.True(t, ok)
	assert.InDelta(t, 8.0, peak, 1e-9)
}

func TestLoginRejected(t *testing.T) {
	dialer := transport.DialerFunc(func(context.Context) (transport.Conn, error) {
		c := newFakeConn()
		c.welcome = ":tmi.twitch.tv NOTICE * :Login authentication failed"
		return c, nil
	})
	a, err := New(writeConfig(t, baseConfig()), WithDialer(dialer))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = a.connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginRejected)
	assert.False(t, a.notif.Connected())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConsoleInputEndStopsApp(t *testing.T) {
	cfg := baseConfig()
	cfg["irc"] = map[string]any{"transport": "console", "nick": "tophourbot", "room": "hasanabi"}
	pr, pw := io.Pipe()
	out := &lockedBuffer{}

	a, err := New(writeConfig(t, cfg), WithConsole(pr, out))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "> JOIN #hasanabi") }, 3*time.Second, 5*time.Millisecond)
	_, err = io.WriteString(pw, "7/10\n8/10\n9/10\n")
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after input ended")
	}
	assert.Equal(t, StopInputEnded, a.Reason())
	assert.Contains(t, out.String(), "> PRIVMSG #hasanabi :DANKIES 🔔 3 chatters rated this ad segue an average of 8.00/10")
	assert.NoError(t, a.Stop(context.Background(), StopInputEnded))
}

func TestInvalidAnnouncementScheduleRejected(t *testing.T) {
	cfg := baseConfig()
	cfg["announcements"] = map[string]any{
		"enabled": true,
		"items":   []map[string]any{{"name": "hourly", "schedule": "61 * * * *", "text": "hi"}},
	}
	_, err := New(writeConfig(t, cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "announcements.items[0].schedule")
}

func TestSyncAnnouncements(t *testing.T) {
	a, err := New(writeConfig(t, baseConfig()))
	require.NoError(t, err)

	cfg := *a.cfgm.Get()
	cfg.Announcements = config.AnnouncementsConfig{
		Enabled: true,
		Items: []config.Announcement{
			{Name: "Hourly", Schedule: "@hourly", Text: "drink water"},
			{Name: "socials", Schedule: "55m", Text: "follow the socials", Important: true},
		},
	}
	require.NoError(t, a.syncAnnouncements(&cfg))
	assert.ElementsMatch(t, []string{"announce:hourly", "announce:socials"}, a.sched.Names())

	cfg.Announcements.Items = cfg.Announcements.Items[1:]
	require.NoError(t, a.syncAnnouncements(&cfg))
	assert.Equal(t, []string{"announce:socials"}, a.sched.Names())

	cfg.Announcements.Enabled = false
	require.NoError(t, a.syncAnnouncements(&cfg))
	assert.Empty(t, a.sched.Names())

	job := a.announce("#hasanabi", config.Announcement{Name: "socials", Text: "follow the socials", Important: true})
	assert.ErrorIs(t, job(context.Background()), notifier.ErrNotConnected)

	c := newFakeConn()
	a.bind(c)
	require.NoError(t, job(context.Background()))
	assert.Equal(t, []string{"PRIVMSG #hasanabi :follow the socials"}, c.lines())

	link := liveLink{a}
	assert.WithinDuration(t, time.Now(), link.ConnectedAt(), time.Second)
	a.bind(nil)
	assert.True(t, link.ConnectedAt().IsZero())
	assert.Zero(t, link.Latency())
}

func TestAdmit(t *testing.T) {
	t.Parallel()
	s := &session{
		cfg:  &config.Config{IRC: config.IRCConfig{Bots: []string{"Nightbot", "streamelements"}}},
		room: "#hasanabi",
		self: "tophourbot",
	}
	tests := []struct {
		name string
		item irc.Item
		want bool
	}{
		{"room message", irc.PrivateMessage{Room: "#hasanabi", Sender: "alice", Text: "7/10"}, true},
		{"other room", irc.PrivateMessage{Room: "#xqc", Sender: "alice", Text: "7/10"}, false},
		{"self", irc.PrivateMessage{Room: "#hasanabi", Sender: "tophourbot", Text: "DANKIES"}, false},
		{"bot any case", irc.PrivateMessage{Room: "#hasanabi", Sender: "nightbot", Text: "!cmd"}, false},
		{"not a message", irc.Other{Raw: ":tmi.twitch.tv 001 tophourbot :Welcome"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, ok := s.admit(tt.item)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestLoginReply(t *testing.T) {
	t.Parallel()
	parse := func(line string) irc.Item { return irc.Parse(line, time.Now()) }

	res, ok := loginReply(parse(":tmi.twitch.tv 001 tophourbot :Welcome, GLHF!"))
	require.True(t, ok)
	assert.NoError(t, res.err)

	res, ok = loginReply(parse(":tmi.twitch.tv NOTICE * :Improperly formatted auth"))
	require.True(t, ok)
	assert.ErrorIs(t, res.err, ErrLoginRejected)

	_, ok = loginReply(parse(":tmi.twitch.tv CAP * ACK :twitch.tv/tags"))
	assert.False(t, ok)
	_, ok = loginReply(parse(privmsg("alice", "7/10")))
	assert.False(t, ok)
}

func TestValidateRuntime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"defaults", func(*config.Config) {}, ""},
		{"bad cooldown", func(c *config.Config) { c.Notifier.Cooldown = "soon" }, "notifier.cooldown"},
		{"sqlite without path", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"bad backoff", func(c *config.Config) { c.Reconnect.MinBackoff = "1 sec" }, "reconnect.min_backoff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{}
			tt.mutate(cfg)
			err := validateRuntime(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReasonAndRecentReports(t *testing.T) {
	assert.Equal(t, StopUnknown, (&App{}).Reason())
	assert.Equal(t, []storage.Report{}, (&App{}).recentReports())

	cfg := baseConfig()
	cfg["storage"] = map[string]any{"driver": "file", "path": filepath.Join(t.TempDir(), "reports.jsonl")}
	a, err := New(writeConfig(t, cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.store.Close() })
	assert.Equal(t, StopUnknown, a.Reason())

	require.NoError(t, a.store.PutReport(context.Background(),
		storage.NewReport("segue", "#hasanabi", 7.5, 41, time.Now().Add(-10*time.Second))))
	reps, ok := a.recentReports().([]storage.Report)
	require.True(t, ok)
	require.Len(t, reps, 1)
	assert.Equal(t, "segue", reps[0].Kind)
	assert.Equal(t, 41, reps[0].Count)
}
