package rating

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vote(sender string, v float64) Vote {
	return Vote{Sender: sender, Value: v, At: time.Now()}
}

func TestRoundThreshold(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name  string
		votes int
		want  bool
	}{
		{name: "threshold-1 discards", votes: 2, want: false},
		{name: "threshold reports", votes: 3, want: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := NewRound(RoundConfig{Decay: 20 * time.Millisecond, Threshold: 3})
			for i := 0; i < tc.votes; i++ {
				require.True(t, r.Offer(vote("u", 6)))
			}
			tally, ok := r.Run(context.Background())
			assert.Equal(t, tc.want, ok)
			assert.Equal(t, tc.votes, tally.Count)
			if tc.want {
				assert.Equal(t, Reporting, r.State())
				assert.InDelta(t, 6, tally.Mean(), 1e-9)
			} else {
				assert.Equal(t, Discarded, r.State())
			}
			assert.False(t, r.Live())
			assert.False(t, r.Offer(vote("late", 1)))
		})
	}
}

func TestRoundDecayResetsOnEveryVote(t *testing.T) {
	t.Parallel()
	const decay = 60 * time.Millisecond
	r := NewRound(RoundConfig{Decay: decay})

	type result struct {
		t  Tally
		ok bool
	}
	done := make(chan result, 1)
	go func() {
		tally, ok := r.Run(context.Background())
		done <- result{tally, ok}
	}()

	// Votes arrive more often than the decay window for well over one window.
	var last time.Time
	for i := 0; i < 6; i++ {
		require.True(t, r.Offer(vote("u", float64(i))))
		last = time.Now()
		time.Sleep(decay / 3)
	}

	res := <-done
	ended := time.Now()
	require.True(t, res.ok)
	assert.Equal(t, 6, res.t.Count)
	assert.InDelta(t, 2.5, res.t.Mean(), 1e-9)
	assert.GreaterOrEqual(t, ended.Sub(last), decay-5*time.Millisecond)
	assert.Less(t, ended.Sub(last), decay+40*time.Millisecond, "round outlived its deadline")
}

func TestLateVotesAreHandedBack(t *testing.T) {
	t.Parallel()
	r := NewRound(RoundConfig{Decay: time.Hour})
	// Accepted while live, but collection never pulled them.
	require.True(t, r.Offer(vote("a", 4)))
	require.True(t, r.Offer(vote("b", 6)))

	late := r.Late()
	require.Len(t, late, 2)
	assert.Equal(t, "a", late[0].Sender)
	assert.Equal(t, "b", late[1].Sender)
	assert.False(t, r.Live())
	assert.False(t, r.Offer(vote("c", 1)))
	assert.Empty(t, r.Late())
}

func TestRoundUniquePolicyCountsFirstPerSender(t *testing.T) {
	t.Parallel()
	r := NewRound(RoundConfig{Decay: 20 * time.Millisecond, Count: CountUnique})
	r.Offer(vote("a", 2))
	r.Offer(vote("a", 10))
	r.Offer(vote("b", 4))

	tally, ok := r.Run(context.Background())
	require.True(t, ok)
	assert.Equal(t, 2, tally.Count)
	assert.InDelta(t, 3, tally.Mean(), 1e-9)
}

func TestManualRoundWaitsForFirstVoteAndStops(t *testing.T) {
	t.Parallel()
	r := NewRound(RoundConfig{Decay: 10 * time.Millisecond, Manual: true})
	done := make(chan Tally, 1)
	go func() {
		tally, _ := r.Run(context.Background())
		done <- tally
	}()

	// Several decay windows pass without a vote; the round keeps waiting.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, r.Live())
	assert.Equal(t, Armed, r.State())

	require.True(t, r.Offer(vote("u", 7)))
	require.Eventually(t, func() bool { return !r.Live() }, time.Second, time.Millisecond)
	assert.Equal(t, 1, (<-done).Count)
	assert.False(t, r.Stop())
}

func TestEmptyRoundIsDiscarded(t *testing.T) {
	t.Parallel()
	r := NewRound(RoundConfig{Decay: time.Hour, Manual: true})
	require.True(t, r.Stop())
	tally, ok := r.Run(context.Background())
	assert.False(t, ok)
	assert.Zero(t, tally.Count)
	assert.True(t, math.IsNaN(tally.Mean()))
}

func TestPeakAndTotal(t *testing.T) {
	t.Parallel()
	p := NewPeak(0)
	assert.False(t, p.Observe(5))
	assert.True(t, p.Observe(6))
	assert.False(t, p.Observe(5.5))
	v, ok := p.Value()
	require.True(t, ok)
	assert.Equal(t, 6.0, v)

	seeded := NewPeak(9)
	assert.False(t, seeded.Observe(8))
	assert.True(t, seeded.Observe(9.5))

	total := NewTotal(10)
	assert.Equal(t, 7, total.Add(-3))
	assert.Equal(t, 7, total.Value())
}
