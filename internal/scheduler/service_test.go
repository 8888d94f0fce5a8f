package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tophourbot/pkg/logx"
)

func TestAddScheduleValidates(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	noop := func(context.Context) error { return nil }

	require.Error(t, s.AddSchedule("", "1h", 0, noop))
	require.Error(t, s.AddSchedule("a", "1h", 0, nil))
	require.Error(t, s.AddSchedule("a", "61 * * * *", 0, noop))
	require.NoError(t, s.AddSchedule("a", "0 * * * *", 0, noop))
	require.NoError(t, s.AddSchedule("a", "1h", 0, noop))
	require.NoError(t, s.AddSchedule("b", "@daily", 0, noop))

	assert.ElementsMatch(t, []string{"a", "b"}, s.Names())
	snap := s.Snapshot()
	assert.False(t, snap.Running)
	require.Len(t, snap.Schedules, 2)
	assert.Equal(t, "interval", snap.Schedules[0].Kind)

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Equal(t, []string{"b"}, s.Names())
}

func TestIntervalJobsRunAndRecordFailures(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ok, bad atomic.Int32
	require.NoError(t, s.AddSchedule("ok", "every:1s", time.Second, func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		if hasDeadline {
			ok.Add(1)
		}
		return nil
	}))
	s.Start(ctx)
	t.Cleanup(func() { s.Stop(context.Background()) })
	require.NoError(t, s.AddSchedule("bad", "1s", 0, func(context.Context) error {
		bad.Add(1)
		return errors.New("chat unavailable")
	}))

	require.Eventually(t, func() bool { return ok.Load() > 0 && bad.Load() > 0 }, 5*time.Second, 20*time.Millisecond)

	snap := s.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, "UTC", snap.Timezone)
	for _, it := range snap.Schedules {
		assert.NotZero(t, it.Runs, it.Name)
		if it.Name == "bad" {
			assert.Equal(t, it.Runs, it.Failures)
			assert.Equal(t, "chat unavailable", it.LastError)
		} else {
			assert.Zero(t, it.Failures)
		}
	}
}

func TestStopKeepsDefinitions(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	require.NoError(t, s.AddSchedule("a", "@hourly", 0, func(context.Context) error { return nil }))
	s.Start(context.Background())
	require.NotZero(t, s.Snapshot().Schedules[0].Next)

	s.Stop(context.Background())
	assert.False(t, s.Running())
	assert.Equal(t, []string{"a"}, s.Names())

	s.Start(context.Background())
	defer s.Stop(context.Background())
	assert.NotZero(t, s.Snapshot().Schedules[0].Next)
}
