package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tophourbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.ErrorIs(t, err, ErrUnknownDriver)

	d, err := Driver(" SQLite3 ")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", d)
}

func TestBackends(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })

			base := time.Now().Add(-time.Hour)
			a := NewReport("segue", "#r", 7.25, 41, base)
			a.ComputedAt = base.Add(time.Minute)
			b := NewReport("roleplay", "#r", -3, 22, base)
			b.ComputedAt = base.Add(2 * time.Minute)
			c := NewReport("segue", "#r", 9, 50, base)
			c.ComputedAt = base.Add(3 * time.Minute)
			for _, r := range []Report{a, b, c} {
				require.NoError(t, st.PutReport(ctx, r))
			}

			segues, err := st.Reports(ctx, "segue", 0)
			require.NoError(t, err)
			require.Len(t, segues, 2)
			assert.Equal(t, c.SessionID, segues[0].SessionID)
			assert.Equal(t, a.SessionID, segues[1].SessionID)
			assert.InDelta(t, 7.25, segues[1].Value, 1e-9)
			assert.Equal(t, 41, segues[1].Count)
			assert.Equal(t, "#r", segues[1].Room)
			assert.WithinDuration(t, a.ComputedAt, segues[1].ComputedAt, time.Millisecond)

			all, err := st.Reports(ctx, "", 1)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, c.SessionID, all[0].SessionID)

			require.NoError(t, st.AppendAudit(ctx, AuditEntry{Room: "#r", Actor: "mod", Command: "segue", Args: "start 8", OK: true}))
		})
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "x.db")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	err = st.PutReport(context.Background(), Report{})
	assert.True(t, errors.Is(err, ErrClosed))
}
