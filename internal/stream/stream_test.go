package stream

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapFilterFilterMap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	evens := Filter(FromSlice(1, 2, 3, 4, 5, 6), func(v int) bool { return v%2 == 0 })
	assert.Equal(t, []string{"2", "4", "6"}, Collect(ctx, Map(evens, strconv.Itoa)))

	parsed := FilterMap(FromSlice("1", "x", "3"), func(s string) (int, bool) {
		v, err := strconv.Atoi(s)
		return v, err == nil
	})
	assert.Equal(t, []int{1, 3}, Collect(ctx, parsed))
}

func TestFirstConsumesUpToMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := FromSlice(1, 2, 3, 4)

	v, ok := First(ctx, Filter(s, func(v int) bool { return v > 1 }))
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, []int{3, 4}, Collect(ctx, s), "single pass: consumed items are gone")

	_, ok = First(ctx, FromSlice[int]())
	assert.False(t, ok)
}

func TestCountReduceLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	assert.Equal(t, 3, Count(ctx, FromSlice("a", "b", "c")))
	assert.Equal(t, []int{1, 2}, Collect(ctx, Limit(FromSlice(1, 2, 3), 2)))

	sum := Reduce(ctx, FromSlice(1, 2, 3), 10, func(a, v int) int { return a + v })
	assert.Equal(t, Reduction[int]{Value: 16}, sum)

	empty := Reduce(ctx, FromSlice[int](), 10, func(a, v int) int { return a + v })
	assert.True(t, empty.Initial)
	assert.Equal(t, 10, empty.Value)
}

func TestTimeoutEveryPull(t *testing.T) {
	t.Parallel()
	ch := make(chan int, 1)
	s := Timeout(FromChan(ch), 20*time.Millisecond, false)

	ch <- 1
	v, ok := s.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, v)

	start := time.Now()
	_, ok = s.Next(context.Background())
	require.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// Ended streams stay ended and leave the source untouched.
	ch <- 2
	_, ok = s.Next(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 2, <-ch)
}

func TestTimeoutFirstOnly(t *testing.T) {
	t.Parallel()
	ch := make(chan int)
	s := Timeout(FromChan(ch), 20*time.Millisecond, true)

	go func() {
		time.Sleep(5 * time.Millisecond)
		ch <- 1
		time.Sleep(60 * time.Millisecond)
		ch <- 2
		close(ch)
	}()

	assert.Equal(t, []int{1, 2}, Collect(context.Background(), s), "only the first pull is bounded")

	idle := Timeout(FromChan(make(chan int)), 10*time.Millisecond, true)
	_, ok := idle.Next(context.Background())
	assert.False(t, ok)
}

func TestDecayWaitsForFirstThenBounds(t *testing.T) {
	t.Parallel()
	ch := make(chan int)
	s := Decay(FromChan(ch), 30*time.Millisecond)

	go func() {
		time.Sleep(60 * time.Millisecond) // longer than the window: first pull is unbounded
		ch <- 1
		time.Sleep(10 * time.Millisecond)
		ch <- 2
		time.Sleep(100 * time.Millisecond)
		ch <- 3
	}()

	assert.Equal(t, []int{1, 2}, Collect(context.Background(), s))
	assert.Equal(t, 3, <-ch, "the late item is not consumed by the expired stream")
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := Generate(ctx, func(ctx context.Context, yield func(int) bool) {
		for i := 0; i < 3; i++ {
			if !yield(i) {
				return
			}
		}
	})
	assert.Equal(t, []int{0, 1, 2}, Collect(ctx, s))
}

func TestMergeEndsWhenEverySourceEnds(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a := make(chan int)
	b := make(chan int)
	m := Merge(ctx, FromChan(a), FromChan(b))

	go func() {
		a <- 1
		close(a)
		b <- 2
		b <- 3
		close(b)
	}()

	got := Collect(ctx, m)
	require.NoError(t, ctx.Err())
	assert.ElementsMatch(t, []int{1, 2, 3}, got)
	assert.Equal(t, 0, m.Active())
}

func TestMergerAcceptsLateSources(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first := make(chan string)
	m := NewMerger[string](ctx)
	require.True(t, m.Add(FromChan(first)))
	m.Seal()

	go func() {
		first <- "a"
		assert.True(t, m.Add(FromSlice("b")))
		close(first)
	}()

	assert.ElementsMatch(t, []string{"a", "b"}, Collect(ctx, m))
	assert.False(t, m.Add(FromSlice("c")), "finished merger refuses sources")
}

func TestMergePreservesPerSourceOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := Merge(ctx, FromSlice(1, 2, 3, 4), FromSlice(10, 20, 30, 40))

	var low, high []int
	for _, v := range Collect(ctx, m) {
		if v < 10 {
			low = append(low, v)
		} else {
			high = append(high, v)
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4}, low)
	assert.Equal(t, []int{10, 20, 30, 40}, high)
}
