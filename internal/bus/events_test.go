package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := New()
	got := make(chan Event, 2)

	b.Subscribe(TopicFallback, func(e Event) { got <- e })
	b.Subscribe(TopicFallback, func(e Event) { got <- e })
	b.Subscribe(TopicExhausted, func(e Event) { t.Error("wrong topic delivered") })

	b.PublishWithSource(TopicFallback, "gpt-4", "http")

	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			assert.Equal(t, TopicFallback, e.Topic)
			assert.Equal(t, "gpt-4", e.Data)
			assert.Equal(t, "http", e.Source)
			assert.False(t, e.Timestamp.IsZero())
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	removed := make(chan Event, 1)
	kept := make(chan Event, 1)
	id := b.Subscribe(TopicPreferenceChanged, func(e Event) { removed <- e })
	b.Subscribe(TopicPreferenceChanged, func(e Event) { kept <- e })

	require.True(t, b.Unsubscribe(id))
	assert.False(t, b.Unsubscribe(id))

	b.Publish(TopicPreferenceChanged, "llama3")
	select {
	case e := <-kept:
		assert.Equal(t, "llama3", e.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("remaining subscriber not called")
	}
	select {
	case <-removed:
		t.Fatal("unsubscribed handler called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	b := New()
	done := make(chan struct{})

	b.Subscribe(TopicRegistryReloaded, func(Event) { panic("boom") })
	b.Subscribe(TopicRegistryReloaded, func(Event) { close(done) })

	b.Publish(TopicRegistryReloaded, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler not called")
	}
}

func TestNilBusDropsEvents(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() { b.Publish(TopicExhausted, nil) })
}
