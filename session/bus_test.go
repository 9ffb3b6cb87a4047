package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/voicemesh/core"
)

func recvEvent(t *testing.T, ch <-chan core.Event) core.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return core.Event{}
	}
}

func TestInMemoryBus(t *testing.T) {
	t.Run("Session subscriber receives only its session", func(t *testing.T) {
		bus := NewInMemoryBus()
		ch, cancel := bus.Subscribe("s1")
		defer cancel()

		bus.Publish("s1", core.NewTranscriptionEvent("s1", core.RoleUser, "hello"))
		bus.Publish("s2", core.NewTranscriptionEvent("s2", core.RoleUser, "other"))

		ev := recvEvent(t, ch)
		assert.Equal(t, core.EventTranscription, ev.Type)
		assert.Equal(t, "hello", ev.Text)

		select {
		case ev := <-ch:
			t.Fatalf("unexpected event: %+v", ev)
		default:
		}
	})

	t.Run("Global subscriber receives everything", func(t *testing.T) {
		bus := NewInMemoryBus()
		ch, cancel := bus.SubscribeAll()
		defer cancel()

		bus.Publish("s1", core.NewTextChunkEvent("s1", "a"))
		bus.Publish("s2", core.NewTextChunkEvent("s2", "b"))

		assert.Equal(t, "a", recvEvent(t, ch).Text)
		assert.Equal(t, "b", recvEvent(t, ch).Text)
	})

	t.Run("Multiple subscribers each receive a copy", func(t *testing.T) {
		bus := NewInMemoryBus()
		ch1, cancel1 := bus.Subscribe("s1")
		defer cancel1()
		ch2, cancel2 := bus.Subscribe("s1")
		defer cancel2()

		bus.Publish("s1", core.NewTextChunkEvent("s1", "hello"))

		assert.Equal(t, "hello", recvEvent(t, ch1).Text)
		assert.Equal(t, "hello", recvEvent(t, ch2).Text)
	})

	t.Run("Cancel closes the channel", func(t *testing.T) {
		bus := NewInMemoryBus()
		ch, cancel := bus.Subscribe("s1")

		cancel()

		_, ok := <-ch
		assert.False(t, ok)

		// A second cancel is a no-op.
		cancel()
	})

	t.Run("Publish with no subscribers does not block", func(t *testing.T) {
		bus := NewInMemoryBus()
		done := make(chan struct{})
		go func() {
			bus.Publish("s1", core.NewTextChunkEvent("s1", "nobody home"))
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publish blocked")
		}
	})

	t.Run("Slow subscriber drops instead of blocking", func(t *testing.T) {
		bus := NewInMemoryBus()
		ch, cancel := bus.Subscribe("s1")
		defer cancel()

		for i := 0; i < subscriberBuffer+10; i++ {
			bus.Publish("s1", core.NewTextChunkEvent("s1", "chunk"))
		}

		assert.Len(t, ch, subscriberBuffer)
	})
}
