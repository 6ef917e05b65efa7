package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventModuleStarted, "sense", "started")
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, EventModuleStarted, e.Type)
	assert.Equal(t, "sense", e.Module)
	assert.False(t, e.Timestamp.IsZero())
}

func TestBrokerDelivers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	require.True(t, b.Publish(&Event{Type: EventRecoverySucceeded, Module: "plan"}))

	select {
	case e := <-sub:
		assert.Equal(t, EventRecoverySucceeded, e.Type)
		assert.NotEmpty(t, e.ID, "publish fills in a missing ID")
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()

	// not started: the queue fills and further events are dropped
	for i := 0; i < 100; i++ {
		require.True(t, b.Publish(NewEvent(EventModuleStopped, "act", "")))
	}
	assert.False(t, b.Publish(NewEvent(EventModuleStopped, "act", "")))

	b.Stop()
	b.Stop()
	assert.False(t, b.Publish(NewEvent(EventModuleStopped, "act", "")))
}

func TestNilBrokerPublish(t *testing.T) {
	var b *Broker
	assert.False(t, b.Publish(NewEvent(EventEmergencyStop, "", "")))
}
