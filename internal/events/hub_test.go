package events

import (
	"sync"
	"testing"
	"time"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()

	// Subscribe to specific event type
	ch := hub.Subscribe(10, EventAccessBlocked)

	// Publish event
	hub.Publish(Event{
		Type:   EventAccessBlocked,
		Source: "test",
		Data:   AccessChangeData{Subject: "alice", Reason: "manual"},
	})

	// Should receive
	select {
	case e := <-ch:
		if e.Type != EventAccessBlocked {
			t.Errorf("expected EventAccessBlocked, got %s", e.Type)
		}
		data, ok := e.Data.(AccessChangeData)
		if !ok {
			t.Fatal("expected AccessChangeData")
		}
		if data.Subject != "alice" {
			t.Errorf("expected subject alice, got %s", data.Subject)
		}
		if e.Timestamp.IsZero() {
			t.Error("timestamp should be stamped on publish")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestHub_GlobalSubscription(t *testing.T) {
	hub := NewHub()

	// Global subscription (no types specified)
	ch := hub.Subscribe(10)

	// Publish different event types
	hub.Publish(Event{Type: EventAccessAllowed, Source: "test"})
	hub.Publish(Event{Type: EventTimerStarted, Source: "test"})
	hub.Publish(Event{Type: EventReconcileTick, Source: "test"})

	// Should receive all 3
	received := 0
	for i := 0; i < 3; i++ {
		select {
		case <-ch:
			received++
		case <-time.After(100 * time.Millisecond):
			break
		}
	}

	if received != 3 {
		t.Errorf("expected 3 events, got %d", received)
	}
}

func TestHub_TypeFiltering(t *testing.T) {
	hub := NewHub()

	// Subscribe only to timer events
	ch := hub.Subscribe(10, EventTimerStarted, EventTimerExpired)

	// Publish various types
	hub.Publish(Event{Type: EventAccessAllowed, Source: "test"})
	hub.Publish(Event{Type: EventTimerStarted, Source: "test"})
	hub.Publish(Event{Type: EventReconcileTick, Source: "test"})
	hub.Publish(Event{Type: EventTimerExpired, Source: "test"})

	// Should only receive 2 timer events
	received := 0
	for {
		select {
		case <-ch:
			received++
		case <-time.After(50 * time.Millisecond):
			goto done
		}
	}
done:

	if received != 2 {
		t.Errorf("expected 2 timer events, got %d", received)
	}
}

func TestHub_NonBlocking(t *testing.T) {
	hub := NewHub()

	// Subscribe with buffer of 1
	ch := hub.Subscribe(1, EventReconcileTick)
	_ = ch // Consume to avoid unused error

	// Publish more events than buffer
	for i := 0; i < 10; i++ {
		hub.Publish(Event{Type: EventReconcileTick, Source: "test"})
	}

	// Should not block - just drop overflows
	published, dropped := hub.Stats()
	if published != 10 {
		t.Errorf("expected 10 published, got %d", published)
	}
	if dropped < 9 {
		t.Errorf("expected at least 9 dropped, got %d", dropped)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10, EventSkipStarted)
	hub.Unsubscribe(ch)

	hub.Publish(Event{Type: EventSkipStarted, Source: "test"})

	select {
	case <-ch:
		t.Error("received event after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_EmitHelpers(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(10)

	until := time.Date(2025, 6, 16, 18, 0, 0, 0, time.UTC)
	hub.EmitAccessChange("alice", true, "timer", "30 minute grant")
	hub.EmitTimer(EventTimerStarted, "alice", 30, until)
	hub.EmitSkip(EventSkipStarted, "bob", until)
	hub.EmitSchedule(EventScheduleSaved, "alice", true, 2)
	hub.EmitReconcile(1, 250*time.Millisecond, "")
	hub.EmitDevice(EventDeviceBlocked, "alice", "aa:bb:cc:dd:ee:ff")
	hub.EmitCollaborator("pfsense", false, 0)

	expected := []EventType{
		EventAccessAllowed,
		EventTimerStarted,
		EventSkipStarted,
		EventScheduleSaved,
		EventReconcileTick,
		EventDeviceBlocked,
		EventCollaboratorDown,
	}
	for _, want := range expected {
		select {
		case e := <-ch:
			if e.Type != want {
				t.Errorf("expected %s, got %s", want, e.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestHub_Concurrent(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(1000, EventReconcileTick)

	var wg sync.WaitGroup
	const numPublishers = 10
	const eventsPerPublisher = 100

	// Concurrent publishers
	for i := 0; i < numPublishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerPublisher; j++ {
				hub.Publish(Event{Type: EventReconcileTick, Source: "test"})
			}
		}()
	}

	wg.Wait()

	// Drain channel
	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			goto done
		}
	}
done:

	if received < numPublishers*eventsPerPublisher/2 {
		t.Errorf("expected at least %d events, got %d", numPublishers*eventsPerPublisher/2, received)
	}
}
