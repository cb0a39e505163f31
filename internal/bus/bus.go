// Package bus carries commands into the lip-sync coordinator and events out of it.
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types published by the lip-sync engine
const (
	// Coordinator state transitions
	EventTypeSpeakScheduled EventType = "lipsync.scheduled"
	EventTypeSpeakPlaying   EventType = "lipsync.playing"
	EventTypeSpeakCompleted EventType = "lipsync.completed"
	EventTypeSpeakCancelled EventType = "lipsync.cancelled"
	EventTypeSpeakRejected  EventType = "lipsync.rejected"

	// Rig events
	EventTypeRigAttached   EventType = "rig.attached"
	EventTypeRigNodeGone   EventType = "rig.node_gone"
	EventTypeShapeKeyPulse EventType = "rig.shape_key"
	EventTypeHeadGesture   EventType = "rig.head_gesture"

	// TTS events
	EventTypeTTSStarted   EventType = "tts.started"
	EventTypeTTSCompleted EventType = "tts.completed"
	EventTypeTTSFailed    EventType = "tts.failed"

	// Config events
	EventTypeConfigReloaded EventType = "config.reloaded"
)

// AllEventTypes lists every event type, for subscribers that forward everything.
var AllEventTypes = []EventType{
	EventTypeSpeakScheduled,
	EventTypeSpeakPlaying,
	EventTypeSpeakCompleted,
	EventTypeSpeakCancelled,
	EventTypeSpeakRejected,
	EventTypeRigAttached,
	EventTypeRigNodeGone,
	EventTypeShapeKeyPulse,
	EventTypeHeadGesture,
	EventTypeTTSStarted,
	EventTypeTTSCompleted,
	EventTypeTTSFailed,
	EventTypeConfigReloaded,
}

// Event represents a bus event
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// Publish calls each subscribed handler in turn on the caller's goroutine, so
// a subscriber sees one publisher's events in the order they were published.
// Handlers run under the publisher's locks and must not block or call back
// into it.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
