package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tophourbot/internal/irc"
	"tophourbot/internal/transport"
)

func TestConsoleWrapsTypedLines(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	d := NewDialer(Config{Room: "#hasanabi", User: "Tester"}, strings.NewReader("8/10 nice\nPING :x\n"), &out)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := d.Dial(ctx)
	require.NoError(t, err)

	frame, err := conn.Receive(ctx)
	require.NoError(t, err)
	pm, ok := irc.Parse(frame, time.Now()).(irc.PrivateMessage)
	require.True(t, ok)
	assert.Equal(t, "tester", pm.Sender)
	assert.Equal(t, "#hasanabi", pm.Room)
	assert.Equal(t, "8/10 nice", pm.Text)
	assert.True(t, pm.Moderator)

	frame, err = conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PING :x", frame)

	_, err = conn.Receive(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)

	require.NoError(t, conn.Send(ctx, "PRIVMSG #hasanabi :hi"))
	assert.Equal(t, "> PRIVMSG #hasanabi :hi\n", out.String())

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send(ctx, "x"), transport.ErrClosed)
}
