package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventModuleStarted     EventType = "module.started"
	EventModuleStopped     EventType = "module.stopped"
	EventModuleFailed      EventType = "module.failed"
	EventModuleDegraded    EventType = "module.degraded"
	EventModuleIsolated    EventType = "module.isolated"
	EventFailureDetected   EventType = "failure.detected"
	EventRecoverySucceeded EventType = "recovery.succeeded"
	EventRecoveryFailed    EventType = "recovery.failed"
	EventModuleRecovered   EventType = "module.recovered"
	EventEmergencyStop     EventType = "emergency.stop"
	EventEmergencyCleared  EventType = "emergency.cleared"
)

// Event represents a lifecycle or supervision event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Module    string
	Message   string
	Metadata  map[string]string
}

// NewEvent creates an event with a fresh ID
func NewEvent(t EventType, module, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
		Module:    module,
		Message:   message,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for distribution. It never blocks: module run
// loops and the supervisor publish from their cycles, so an event is
// dropped when the queue is full or the broker is stopped.
func (b *Broker) Publish(event *Event) bool {
	if b == nil || event == nil {
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	select {
	case <-b.stopCh:
		return false
	default:
	}

	select {
	case b.eventCh <- event:
		return true
	default:
		return false
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
