// Package events provides the in-process pub/sub bus that replaces an external
// event transport. Adapters (websocket, stdout) subscribe to the bus and fan
// events out to whatever the deployment chooses.
package events

import (
	"sync"
	"time"
)

// EventType identifies the events broadcast by the pipeline
type EventType string

const (
	EventTierUpgrade     EventType = "tier-upgrade"
	EventTierDowngrade   EventType = "tier-downgrade"
	EventRegimeChange    EventType = "regime-change"
	EventTriggerDetected EventType = "trigger-detected"
	EventSignalGenerated EventType = "signal-generated"
	EventHeartbeat       EventType = "heartbeat"
	EventDataHealth      EventType = "data-health"
)

// Event represents a single broadcast
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions. Publishing is
// fire-and-forget: subscribers run on their own goroutines and may not block
// the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishTierChange publishes a tier-upgrade or tier-downgrade event
func (b *Bus) PublishTierChange(symbol string, from, to int, reason string) {
	eventType := EventTierUpgrade
	if to < from {
		eventType = EventTierDowngrade
	}
	b.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"fromTier": from,
			"toTier":   to,
			"reason":   reason,
		},
	})
}

// PublishRegimeChange publishes a regime transition
func (b *Bus) PublishRegimeChange(symbol, from, to string, volatility float64, thresholds map[string]float64) {
	b.Publish(Event{
		Type: EventRegimeChange,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"from":       from,
			"to":         to,
			"volatility": volatility,
			"thresholds": thresholds,
		},
	})
}

// PublishTrigger publishes a trigger-detected event
func (b *Bus) PublishTrigger(symbol, reason, priority string, price float64) {
	b.Publish(Event{
		Type: EventTriggerDetected,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"reason":   reason,
			"priority": priority,
			"price":    price,
		},
	})
}

// PublishSignal publishes the full payload of a generated signal
func (b *Bus) PublishSignal(payload map[string]interface{}) {
	b.Publish(Event{
		Type: EventSignalGenerated,
		Data: payload,
	})
}

// PublishHeartbeat publishes engine liveness plus counters
func (b *Bus) PublishHeartbeat(status string, counters map[string]interface{}) {
	b.Publish(Event{
		Type: EventHeartbeat,
		Data: map[string]interface{}{
			"status":   status,
			"counters": counters,
		},
	})
}

// PublishDataHealth publishes a per-source health snapshot
func (b *Bus) PublishDataHealth(snapshot map[string]interface{}) {
	b.Publish(Event{
		Type: EventDataHealth,
		Data: snapshot,
	})
}
