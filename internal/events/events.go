// Package events carries transfer notifications from the queue and batch
// controller to whatever renders them. Publishing never blocks.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/stashbox/stashbox/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventItemQueued     EventType = "item_queued"     // Item admitted to the queue
	EventItemRemoved    EventType = "item_removed"    // Item removed before it ran
	EventItemStatus     EventType = "item_status"     // Item changed state
	EventItemProgress   EventType = "item_progress"   // Byte progress update
	EventBatchStarted   EventType = "batch_started"   // RunQueue began
	EventBatchComplete  EventType = "batch_complete"  // RunQueue finished
	EventOrphanedObject EventType = "orphaned_object" // Object stored without a record
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// ItemEvent describes one transfer item.
type ItemEvent struct {
	BaseEvent
	ItemID    string
	Kind      string // "upload" or "download"
	Name      string
	Size      int64
	Status    string
	Progress  float64 // 0.0 to 1.0
	ObjectKey string
	Error     error
}

// BatchEvent marks the start or end of a queue run.
type BatchEvent struct {
	BaseEvent
	Total     int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// OrphanEvent reports an object left in storage without a matching record.
type OrphanEvent struct {
	BaseEvent
	ObjectKey string
	Reason    string
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	eb.all = append(eb.all, ch)
	return ch
}

// Publish delivers event to every interested subscriber. A full subscriber
// buffer drops the event for that subscriber and bumps the dropped counter.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		eb.offer(ch, event)
	}
	for _, ch := range eb.all {
		eb.offer(ch, event)
	}
}

func (eb *EventBus) offer(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		eb.droppedEvents.Add(1)
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes ch from every subscription list and closes it.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subs := range eb.subscribers {
		for i, sub := range subs {
			if sub == ch {
				eb.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(sub)
				return
			}
		}
	}
	for i, sub := range eb.all {
		if sub == ch {
			eb.all = append(eb.all[:i], eb.all[i+1:]...)
			close(sub)
			return
		}
	}
}

// DroppedEvents returns how many events were dropped on full buffers.
func (eb *EventBus) DroppedEvents() int64 {
	return eb.droppedEvents.Load()
}

// PublishItem is a convenience method for item events.
func (eb *EventBus) PublishItem(eventType EventType, e ItemEvent) {
	e.BaseEvent = BaseEvent{EventType: eventType, Time: time.Now()}
	eb.Publish(&e)
}

// PublishOrphan is a convenience method for orphaned object reports.
func (eb *EventBus) PublishOrphan(objectKey, reason string) {
	eb.Publish(&OrphanEvent{
		BaseEvent: BaseEvent{EventType: EventOrphanedObject, Time: time.Now()},
		ObjectKey: objectKey,
		Reason:    reason,
	})
}
