package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusPublishFanOut(t *testing.T) {
	bus := NewEventBus()
	ch1, cancel1 := bus.Subscribe(1)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(1)
	defer cancel2()

	bus.Publish(Event{Kind: EventRoleChanged, Role: Leader})

	select {
	case ev := <-ch1:
		assert.Equal(t, EventRoleChanged, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("subscriber 1 never received event")
	}
	select {
	case ev := <-ch2:
		assert.Equal(t, Leader, ev.Role)
	case <-time.After(time.Second):
		t.Fatal("subscriber 2 never received event")
	}
}

func TestEventBusPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewEventBus()
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			bus.Publish(Event{Kind: EventVoteCast})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestEventBusCancelUnsubscribesAndCloses(t *testing.T) {
	bus := NewEventBus()
	ch, cancel := bus.Subscribe(1)
	cancel()

	_, ok := <-ch
	require.False(t, ok, "channel must be closed after cancel")

	// Publishing after cancel must not panic.
	bus.Publish(Event{Kind: EventVoteCast})
}
