// SPDX-License-Identifier: MIT

package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe_TopicScoped(t *testing.T) {
	b := New()
	sub := b.Subscribe("renderer.r1")
	defer sub.Close()

	b.Publish(Event{Topic: "renderer.r1", Kind: "StateChanged"})
	b.Publish(Event{Topic: "renderer.r2", Kind: "StateChanged"})

	ev := <-sub.C()
	assert.Equal(t, "renderer.r1", ev.Topic)
	select {
	case ev := <-sub.C():
		t.Fatalf("received event for foreign topic: %+v", ev)
	default:
	}
}

func TestSubscribeAll_ReceivesEveryTopic(t *testing.T) {
	b := New()
	all := b.SubscribeAll()
	defer all.Close()

	b.Publish(Event{Topic: "renderer.r1", Kind: "StateChanged"})
	b.Publish(Event{Topic: "source.qobuz", Kind: "MetadataChanged"})

	first := <-all.C()
	second := <-all.C()
	assert.Equal(t, "renderer.r1", first.Topic)
	assert.Equal(t, "source.qobuz", second.Topic)
}

// A slow subscriber drops its oldest buffered event instead of
// back-pressuring the publisher.
func TestPublish_DropOldestOnFullBuffer(t *testing.T) {
	b := New()
	sub := b.Subscribe("t")
	defer sub.Close()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{Topic: "t", Kind: "k", Payload: i})
	}

	// The oldest events are gone; the newest survives.
	var last Event
	drained := 0
	for {
		select {
		case ev := <-sub.C():
			last = ev
			drained++
			continue
		default:
		}
		break
	}
	require.Equal(t, subscriberBuffer, drained)
	assert.Equal(t, subscriberBuffer+9, last.Payload)
}

func TestClose_Unregisters(t *testing.T) {
	b := New()
	sub := b.Subscribe("t")
	sub.Close()
	// Publishing after close must not panic on the closed channel.
	b.Publish(Event{Topic: "t", Kind: "k"})

	all := b.SubscribeAll()
	all.Close()
	b.Publish(Event{Topic: "t", Kind: "k"})
}
