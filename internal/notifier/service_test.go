package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tophourbot/internal/eventbus"
	"tophourbot/internal/irc"
	logx "tophourbot/pkg/logx"
)

type sentLine struct {
	at   time.Time
	line string
}

type recordingConn struct {
	mu    sync.Mutex
	lines []sentLine
	fail  error
}

func (c *recordingConn) Receive(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (c *recordingConn) Send(_ context.Context, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.lines = append(c.lines, sentLine{at: time.Now(), line: line})
	return nil
}

func (c *recordingConn) Latency() time.Duration { return 0 }
func (c *recordingConn) Close() error           { return nil }

func (c *recordingConn) sent() []sentLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentLine(nil), c.lines...)
}

func newService(t *testing.T, cooldown time.Duration) (*Service, *recordingConn) {
	t.Helper()
	s := New(Config{Cooldown: cooldown, JoinCooldown: cooldown}, logx.Nop(), eventbus.New(), nil)
	conn := &recordingConn{}
	s.Bind(conn)
	return s, conn
}

func TestImportantSendsAreSpacedAndOrdered(t *testing.T) {
	t.Parallel()
	const cooldown = 60 * time.Millisecond
	s, conn := newService(t, cooldown)
	ctx := context.Background()

	var outs []<-chan Outcome
	for i := 0; i < 5; i++ {
		outs = append(outs, s.Dispatch(ctx, Action{Text: fmt.Sprintf("m%d", i), Room: "#r", Important: true}))
	}
	for _, o := range outs {
		got := <-o
		require.Equal(t, StatusSent, got.Status, "err=%v", got.Err)
	}

	lines := conn.sent()
	require.Len(t, lines, 5)
	for i, l := range lines {
		assert.Equal(t, fmt.Sprintf("PRIVMSG #r :m%d", i), l.line)
		if i > 0 {
			gap := l.at.Sub(lines[i-1].at)
			assert.GreaterOrEqual(t, gap, cooldown-10*time.Millisecond, "gap %d", i)
		}
	}
}

func TestBestEffortDropsWhenBusy(t *testing.T) {
	t.Parallel()
	s, conn := newService(t, time.Second)
	ctx := context.Background()

	var outs []<-chan Outcome
	for i := 0; i < 5; i++ {
		outs = append(outs, s.Dispatch(ctx, Say("#r", fmt.Sprintf("m%d", i))))
	}
	counts := map[Status]int{}
	for _, o := range outs {
		counts[(<-o).Status]++
	}
	assert.Equal(t, 1, counts[StatusSent])
	assert.Equal(t, 4, counts[StatusDropped])
	require.Len(t, conn.sent(), 1)
	assert.Equal(t, "PRIVMSG #r :m0", conn.sent()[0].line)
}

func TestBestEffortDropsBehindImportant(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, 50*time.Millisecond)
	ctx := context.Background()

	first := s.Dispatch(ctx, Action{Text: "a", Room: "#r", Important: true})
	second := s.Dispatch(ctx, Action{Text: "b", Room: "#r", Important: true})
	assert.Equal(t, StatusDropped, (<-s.Dispatch(ctx, Say("#r", "c"))).Status)
	assert.Equal(t, StatusSent, (<-first).Status)
	assert.Equal(t, StatusSent, (<-second).Status)
}

func TestUnboundFailsWithErrNotConnected(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil, nil)
	o := s.Send(context.Background(), Action{Text: "x", Room: "#r", Important: true})
	assert.Equal(t, StatusFailed, o.Status)
	assert.True(t, errors.Is(o.Err, ErrNotConnected))
	assert.True(t, errors.Is(s.Raw(context.Background(), "PONG :x"), ErrNotConnected))
}

func TestWriteErrorIsFailed(t *testing.T) {
	t.Parallel()
	s, conn := newService(t, time.Millisecond)
	conn.fail = errors.New("boom")
	o := s.Send(context.Background(), Say("#r", "x"))
	assert.Equal(t, StatusFailed, o.Status)
	assert.ErrorContains(t, o.Err, "boom")
}

func TestImportantHonorsContext(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, time.Hour)
	require.Equal(t, StatusSent, s.Send(context.Background(), Say("#r", "first")).Status)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	o := s.Send(ctx, Action{Text: "second", Room: "#r", Important: true})
	assert.Equal(t, StatusFailed, o.Status)
}

func TestReplyJoinRawAndHistory(t *testing.T) {
	t.Parallel()
	s, conn := newService(t, time.Millisecond)
	ctx := context.Background()
	parent := irc.PrivateMessage{ID: "abc", Room: "#r", Sender: "u"}

	require.NoError(t, s.Raw(ctx, irc.Pong("tmi.twitch.tv")))
	require.NoError(t, s.Join(ctx, "R"))
	require.Equal(t, StatusSent, s.Send(ctx, Action{Text: "hi", ReplyTo: &parent, Important: true}).Status)

	lines := conn.sent()
	require.Len(t, lines, 3)
	assert.Equal(t, "PONG :tmi.twitch.tv", lines[0].line)
	assert.Equal(t, "JOIN #r", lines[1].line)
	assert.Equal(t, "@reply-parent-msg-id=abc PRIVMSG #r :hi", lines[2].line)

	hist := s.Snapshot()
	require.Len(t, hist, 1)
	assert.Equal(t, "#r", hist[0].Room)
	assert.Equal(t, "hi", hist[0].Text)
}

func TestEmptyActionFails(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, time.Millisecond)
	o := <-s.Dispatch(context.Background(), Action{Room: "#r"})
	assert.True(t, errors.Is(o.Err, ErrEmptyAction))
}
