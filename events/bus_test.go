package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNothing(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_DeliversToDeviceTopic(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "dev-1")
	b.Publish(Event{DeviceID: "dev-1", Kind: KindQR, Data: QRPayload{Code: "abc"}})

	ev := recv(t, ch)
	assert.Equal(t, KindQR, ev.Kind)
	assert.Equal(t, QRPayload{Code: "abc"}, ev.Data)
}

func TestBus_TopicsAreIsolated(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "dev-1")
	ch2, _ := b.Subscribe(t.Context(), "dev-2")

	b.Publish(Event{DeviceID: "dev-1", Kind: KindReady})

	recv(t, ch1)
	assertNothing(t, ch2)
}

func TestBus_AllTopicsReceivesEveryDevice(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	all, _ := b.Subscribe(t.Context(), AllTopics)

	b.Publish(Event{DeviceID: "dev-1", Kind: KindReady})
	b.Publish(Event{DeviceID: "dev-2", Kind: KindNewMessage})

	assert.Equal(t, "dev-1", recv(t, all).DeviceID)
	assert.Equal(t, "dev-2", recv(t, all).DeviceID)
}

func TestBus_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	slow, _ := b.Subscribe(t.Context(), "dev-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*4; i++ {
			b.Publish(Event{DeviceID: "dev-1", Kind: KindNewMessage})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, slow, subscriberBufferSize)
}

func TestBus_NoReplayForLateSubscribers(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	b.Publish(Event{DeviceID: "dev-1", Kind: KindQR})
	ch, _ := b.Subscribe(t.Context(), "dev-1")

	assertNothing(t, ch)
}

func TestBus_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "dev-1")
	require.Equal(t, 1, b.Subscribers("dev-1"))

	cancel()

	require.Eventually(t, func() bool { return b.Subscribers("dev-1") == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
}

func TestBus_UnsubscribeTwiceIsSafe(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	_, id := b.Subscribe(t.Context(), "dev-1")
	b.Unsubscribe("dev-1", id)
	b.Unsubscribe("dev-1", id)
	b.Unsubscribe("unknown", id)

	assert.Equal(t, 0, b.Subscribers("dev-1"))
}

func TestBus_CloseClosesChannelsAndIgnoresPublish(t *testing.T) {
	b := NewBus(nil)
	ch, _ := b.Subscribe(t.Context(), "dev-1")

	b.Close()
	b.Publish(Event{DeviceID: "dev-1", Kind: KindQR})

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(t.Context(), "dev-1")
	_, ok = <-late
	assert.False(t, ok)
	b.Close()
}

func TestBus_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sctx, scancel := context.WithCancel(ctx)
			_, id := b.Subscribe(sctx, "dev-1")
			b.Unsubscribe("dev-1", id)
			scancel()
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(Event{DeviceID: "dev-1", Kind: KindNewMessage})
			}
		}()
	}
	wg.Wait()
}
