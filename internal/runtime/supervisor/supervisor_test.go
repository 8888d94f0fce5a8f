package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, s *Supervisor) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func TestGoErrorCancelsWhenConfigured(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	for _, cancelOnErr := range []bool{true, false} {
		s := New(context.Background(), WithCancelOnError(cancelOnErr))
		s.Go("task", func(context.Context) error { return boom })
		if !cancelOnErr {
			s.Go0("idle", func(ctx context.Context) { <-ctx.Done() })
			assert.Eventually(t, func() bool { return s.Err() != nil }, time.Second, time.Millisecond)
			assert.NoError(t, s.Context().Err())
			s.Cancel()
		}
		err := waitDone(t, s)
		require.ErrorIs(t, err, boom)
		assert.Equal(t, "task: boom", err.Error())
		assert.Error(t, s.Context().Err())
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("boom", func(context.Context) error { panic("kaboom") })
	err := waitDone(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in boom: kaboom")

	snap := s.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, uint64(1), snap.Tasks[0].Panics)
	assert.Equal(t, "kaboom", snap.Tasks[0].LastPanic)
	assert.Zero(t, snap.Active)
}

func TestGoRestartRestartsUntilCleanExit(t *testing.T) {
	t.Parallel()
	var hooks, exits atomic.Int32
	s := New(context.Background(), WithRestartHook(func(name string) {
		assert.Equal(t, "flaky", name)
		hooks.Add(1)
	}))

	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("first")
		case 2:
			panic("second")
		default:
			return nil
		}
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithOnExit(func() { exits.Add(1) }))

	require.NoError(t, waitDone(t, s))
	assert.Equal(t, int32(3), runs.Load())
	assert.Equal(t, int32(2), hooks.Load())
	assert.Equal(t, int32(1), exits.Load())

	var flaky TaskStats
	for _, st := range s.Snapshot().Tasks {
		if st.Name == "flaky" {
			flaky = st
		}
	}
	assert.Equal(t, uint64(3), flaky.Started)
	assert.Equal(t, uint64(2), flaky.Restarts)
	assert.Equal(t, uint64(1), flaky.Panics)
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	var runs atomic.Int32
	s.GoRestart("broken", func(context.Context) error {
		runs.Add(1)
		return errors.New("still broken")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	err := waitDone(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: still broken")
	assert.Equal(t, int32(3), runs.Load())
	assert.Error(t, s.Context().Err())
}

func TestGoRestartPublishesFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("once", func(context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("hiccup")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithPublishFirstError(true))

	err := waitDone(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "once: hiccup")
	assert.NoError(t, s.Context().Err())
}

func TestCancelEndsRestartLoopCleanly(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	started := make(chan struct{})
	s.GoRestart("session", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(short), context.DeadlineExceeded)

	s.Cancel()
	assert.NoError(t, waitDone(t, s))
}

func TestNilSnapshot(t *testing.T) {
	t.Parallel()
	var s *Supervisor
	assert.Equal(t, Snapshot{}, s.Snapshot())
}
