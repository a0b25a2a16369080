package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeOrdering(t *testing.T) {
	b := New(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := b.Subscribe(ctx, "swap-1")

	b.Publish("swap-1", "swap.state", "initialized")
	b.Publish("swap-1", "swap.state", "quoted")

	first := (<-sub.C).(*Event)
	second := (<-sub.C).(*Event)

	require.Equal(t, uint64(1), first.Seq)
	require.Equal(t, uint64(2), second.Seq)
	require.Equal(t, "initialized", first.Payload)
}

func TestPublishDoesNotReachOtherSubjects(t *testing.T) {
	b := New(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subA := b.Subscribe(ctx, "swap-a")
	subB := b.Subscribe(ctx, "swap-b")

	b.Publish("swap-a", "swap.state", "x")

	select {
	case evt := <-subA.C:
		require.Equal(t, uint64(1), evt.(*Event).Seq)
	case <-time.After(time.Second):
		t.Fatal("expected event on subA")
	}

	select {
	case <-subB.C:
		t.Fatal("subB should not have received an event")
	default:
	}
}

func TestSlowSubscriberGetsLaggedNotice(t *testing.T) {
	b := New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := b.Subscribe(ctx, "swap-1")
	b.Publish("swap-1", "swap.state", "a")
	b.Publish("swap-1", "swap.state", "b") // buffer full, should yield a Lagged

	first := <-sub.C
	_, isEvent := first.(*Event)
	require.True(t, isEvent)

	second := <-sub.C
	_, isLagged := second.(*Lagged)
	require.True(t, isLagged)
}

func TestCloseUnsubscribes(t *testing.T) {
	b := New(8, nil)
	ctx := context.Background()
	sub := b.Subscribe(ctx, "swap-1")
	sub.Close()

	b.mu.RLock()
	_, ok := b.subscribers["swap-1"]
	b.mu.RUnlock()
	require.False(t, ok)
}
