package systemd

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	sent, err := Ready()
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Zero(t, WatchdogInterval())

	done := make(chan struct{})
	go func() {
		Watchdog(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watchdog should return when the watchdog is off")
	}
}

func TestNotificationsReachSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", path)

	read := func() string {
		t.Helper()
		buf := make([]byte, 256)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		return string(buf[:n])
	}

	for _, tc := range []struct {
		name string
		send func() (bool, error)
		want string
	}{
		{"ready", Ready, "READY=1"},
		{"status", func() (bool, error) { return Status("connected to #room") }, "STATUS=connected to #room"},
		{"reloading", Reloading, "RELOADING=1"},
		{"stopping", Stopping, "STOPPING=1"},
	} {
		sent, err := tc.send()
		require.NoError(t, err, tc.name)
		assert.True(t, sent, tc.name)
		assert.Equal(t, tc.want, read(), tc.name)
	}
}
