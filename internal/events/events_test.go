package events

import (
	"testing"
	"time"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventItemProgress)
	bus.PublishItem(EventItemProgress, ItemEvent{ItemID: "item-1", Name: "a.pdf", Progress: 0.5})

	select {
	case received := <-ch:
		ev, ok := received.(*ItemEvent)
		if !ok {
			t.Fatalf("Expected *ItemEvent, got %T", received)
		}
		if ev.ItemID != "item-1" {
			t.Errorf("Expected item ID 'item-1', got '%s'", ev.ItemID)
		}
		if ev.Progress != 0.5 {
			t.Errorf("Expected progress 0.5, got %f", ev.Progress)
		}
		if ev.Timestamp().IsZero() {
			t.Error("Expected timestamp to be set")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_TypeFiltering(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	status := bus.Subscribe(EventItemStatus)
	all := bus.SubscribeAll()

	bus.PublishItem(EventItemProgress, ItemEvent{ItemID: "x"})
	bus.PublishOrphan("users/u1/key", "commit failed")

	select {
	case ev := <-status:
		t.Fatalf("status subscriber received unexpected %s event", ev.Type())
	default:
	}

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("SubscribeAll missed event %d", i)
		}
	}
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	_ = bus.Subscribe(EventItemProgress)
	for i := 0; i < 5; i++ {
		bus.PublishItem(EventItemProgress, ItemEvent{ItemID: "x"})
	}

	if got := bus.DroppedEvents(); got != 4 {
		t.Errorf("Expected 4 dropped events, got %d", got)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventItemQueued)
	bus.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed after Unsubscribe")
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	bus.PublishItem(EventItemQueued, ItemEvent{ItemID: "x"})
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.SubscribeAll()
	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed")
	}

	late := bus.Subscribe(EventItemStatus)
	if _, ok := <-late; ok {
		t.Error("Expected subscription on closed bus to be closed")
	}

	bus.PublishItem(EventItemStatus, ItemEvent{})
}

func TestEventBus_NilPublish(t *testing.T) {
	var bus *EventBus
	bus.PublishItem(EventItemStatus, ItemEvent{ItemID: "x"})
	bus.PublishOrphan("k", "r")
}
