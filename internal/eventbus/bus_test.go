package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	Publish(b, NotifierSent, "one")
	Publish(b, NotifierDropped, "two")

	e := <-a
	assert.Equal(t, NotifierSent, e.Type)
	assert.False(t, e.Time.IsZero())
	select {
	case <-a:
		t.Fatal("full subscriber should have lost the second event")
	default:
	}

	assert.Equal(t, NotifierSent, (<-c).Type)
	assert.Equal(t, NotifierDropped, (<-c).Type)

	unsubA()
	unsubA()
	_, ok := <-a
	assert.False(t, ok)
	Publish(b, RoundReported, nil)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() { Publish(nil, RoundReported, 1) })
}

func TestRecorderKeepsNewest(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(16)
	r := NewRecorder(2)
	done := make(chan struct{})
	go func() {
		r.Run(ch)
		close(done)
	}()

	Publish(b, ConnConnected, nil)
	Publish(b, RoundReported, nil)
	Publish(b, ConnDisconnected, nil)

	require.Eventually(t, func() bool {
		got := r.Recent()
		return len(got) == 2 && got[1].Type == ConnDisconnected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, RoundReported, r.Recent()[0].Type)

	unsub()
	<-done
}
