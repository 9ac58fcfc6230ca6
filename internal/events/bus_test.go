package events

import "testing"

func TestBusDeliversToSubscribersOfType(t *testing.T) {
	bus := NewBus()
	added := bus.Subscribe(EventSessionAdded)
	deleted := bus.Subscribe(EventSessionDeleted)

	bus.Publish(EventSessionAdded, Payload{"session_id": "s1"})

	select {
	case p := <-added:
		if p["session_id"] != "s1" {
			t.Fatalf("payload = %v", p)
		}
	default:
		t.Fatal("expected event on added subscriber")
	}
	select {
	case p := <-deleted:
		t.Fatalf("unexpected event on deleted subscriber: %v", p)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventScheduleUpdated)
	for i := 0; i < cap(sub)+5; i++ {
		bus.Publish(EventScheduleUpdated, Payload{"n": i})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("buffered = %d, want %d", len(sub), cap(sub))
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventSessionUpdated)
	bus.Unsubscribe(EventSessionUpdated, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	// publishing after unsubscribe must not panic on the closed channel
	bus.Publish(EventSessionUpdated, Payload{})
}
