package bus

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/hive/pkg/protocol"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New()

	var mu sync.Mutex
	got := map[string]int{}
	for _, id := range []string{"alice", "bob", "carol"} {
		id := id
		b.Subscribe(id, func(protocol.Frame) error {
			mu.Lock()
			got[id]++
			mu.Unlock()
			return nil
		})
	}

	b.Broadcast(protocol.NewFrame(protocol.FrameChat, map[string]string{"message": "hi"}))

	assert.Equal(t, map[string]int{"alice": 1, "bob": 1, "carol": 1}, got)
	assert.Len(t, b.Subscribers(), 3)
}

func TestFailedSendDropsSubscriber(t *testing.T) {
	b := New()

	b.Subscribe("alice", func(protocol.Frame) error { return nil })
	b.Subscribe("bob", func(protocol.Frame) error { return errors.New("connection closed") })

	b.Broadcast(protocol.NewFrame(protocol.FrameAgentUpdate, nil))

	assert.ElementsMatch(t, []string{"alice"}, b.Subscribers())

	// A dropped subscriber no longer receives sends.
	assert.False(t, b.Send("bob", protocol.NewFrame(protocol.FramePong, nil)))
	assert.True(t, b.Send("alice", protocol.NewFrame(protocol.FramePong, nil)))
}

func TestResubscribeReplacesPrevious(t *testing.T) {
	b := New()

	var first, second int
	token1 := b.Subscribe("alice", func(protocol.Frame) error { first++; return nil })
	token2 := b.Subscribe("alice", func(protocol.Frame) error { second++; return nil })
	require.NotEqual(t, token1, token2)

	b.Broadcast(protocol.NewFrame(protocol.FrameChat, nil))
	assert.Equal(t, 0, first, "replaced subscription must not receive frames")
	assert.Equal(t, 1, second)

	// Unsubscribing with the stale token leaves the live subscription alone.
	assert.False(t, b.Unsubscribe("alice", token1))
	assert.Len(t, b.Subscribers(), 1)

	assert.True(t, b.Unsubscribe("alice", token2))
	assert.Empty(t, b.Subscribers())
}
