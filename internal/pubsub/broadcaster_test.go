package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testMessage(block uint64) Message {
	return Message{
		ContractName: "ApiProofs",
		EventName:    "ApiCallProved",
		EventID:      "ApiProofs:ApiCallProved",
		BlockNumber:  block,
		TxHash:       "0xaa00000000000000000000000000000000000000000000000000000000000001",
		LogIndex:     0,
		Timestamp:    1700000000,
		Data: map[string]any{
			"callId": "call-1",
		},
	}
}

func TestNewBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	require.NotNil(t, b)
	require.Equal(t, 0, b.SubscriberCount())
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	id1, ch1 := b.Subscribe()
	require.NotEmpty(t, id1)
	require.NotNil(t, ch1)
	require.Equal(t, 1, b.SubscriberCount())

	id2, _ := b.Subscribe()
	require.NotEqual(t, id1, id2)
	require.Equal(t, 2, b.SubscriberCount())

	b.Unsubscribe(id1)
	require.Equal(t, 1, b.SubscriberCount())

	// The removed subscriber's channel is closed.
	_, ok := <-ch1
	require.False(t, ok)

	// Unknown IDs are ignored.
	b.Unsubscribe("no-such-subscriber")
	require.Equal(t, 1, b.SubscriberCount())
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()

	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	msg := testMessage(100)
	b.Publish(msg)

	for _, ch := range []<-chan Message{ch1, ch2} {
		select {
		case got := <-ch:
			require.Equal(t, "ApiProofs:ApiCallProved", got.EventID)
			require.Equal(t, uint64(100), got.BlockNumber)
			require.Equal(t, "call-1", got.Data["callId"])
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive message")
		}
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster()
	// Must not panic or block.
	b.Publish(testMessage(1))
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe()

	// Nobody reads, so everything past the buffer is dropped.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(testMessage(uint64(i)))
	}
	require.Len(t, ch, subscriberBuffer)

	// The retained messages are the oldest ones, in order.
	first := <-ch
	require.Equal(t, uint64(0), first.BlockNumber)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroadcaster()

	_, slow := b.Subscribe()
	_, fast := b.Subscribe()

	for i := 0; i < subscriberBuffer; i++ {
		b.Publish(testMessage(uint64(i)))
	}
	// Slow subscriber's buffer is now full; the next publish still
	// reaches the fast one after it drains.
	for i := 0; i < subscriberBuffer; i++ {
		<-fast
	}
	b.Publish(testMessage(9999))

	select {
	case got := <-fast:
		require.Equal(t, uint64(9999), got.BlockNumber)
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved by slow one")
	}
	require.Len(t, slow, subscriberBuffer)
}

func TestClose(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe()

	b.Close()
	require.Equal(t, 0, b.SubscriberCount())

	_, ok := <-ch
	require.False(t, ok)

	// Publishing after close is a no-op.
	b.Publish(testMessage(1))

	// Subscribing after close yields a closed channel.
	_, late := b.Subscribe()
	_, ok = <-late
	require.False(t, ok)
	require.Equal(t, 0, b.SubscriberCount())

	// Double close must not panic.
	b.Close()
}

func TestConcurrentAccess(t *testing.T) {
	b := NewBroadcaster()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, ch := b.Subscribe()
			for range ch {
			}
			_ = id
		}()
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(testMessage(uint64(n*50 + j)))
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		b.Close()
	}()

	wg.Wait()
	require.Equal(t, 0, b.SubscriberCount())
}
