package broadcast_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdameros/taskmaster-go/internal/broadcast"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := broadcast.New[string](4)
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish("hello\n")

	require.Equal(t, "hello\n", <-a)
	require.Equal(t, "hello\n", <-c)
}

func TestLaggingSubscriberDropsWithoutBlocking(t *testing.T) {
	b := broadcast.New[string](1)
	slow := b.Subscribe()

	done := make(chan struct{})
	go func() {
		b.Publish("first\n")
		b.Publish("second\n")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, "first\n", <-slow)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := broadcast.New[string](1)
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}
