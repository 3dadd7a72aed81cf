package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Hub is the central event bus.
// It provides pub/sub semantics with typed events and non-blocking fan-out.
type Hub struct {
	mu   sync.RWMutex
	subs map[EventType][]chan Event

	// Global subscribers receive all events
	global []chan Event

	// Metrics
	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a new event hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[EventType][]chan Event),
	}
}

// Publish sends an event to all subscribers of that event type.
// This is non-blocking - if a subscriber's channel is full, the event is dropped.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published.Add(1)

	// Send to type-specific subscribers
	for _, ch := range h.subs[e.Type] {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}

	// Send to global subscribers
	for _, ch := range h.global {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// PublishAsync sends an event in a goroutine (fire-and-forget).
func (h *Hub) PublishAsync(e Event) {
	go h.Publish(e)
}

// Subscribe returns a channel that receives events of the specified types.
// If no types are specified, subscribes to all events.
// The caller is responsible for draining the channel to avoid drops.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(types) == 0 {
		// Global subscription
		h.global = append(h.global, ch)
	} else {
		for _, t := range types {
			h.subs[t] = append(h.subs[t], ch)
		}
	}

	return ch
}

// Unsubscribe removes a channel from all subscriptions.
// The channel is NOT closed by this method.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Remove from global
	h.global = removeFromSlice(h.global, ch)

	// Remove from type-specific
	for t, subs := range h.subs {
		h.subs[t] = removeFromSlice(subs, ch)
	}
}

// Stats returns publish/drop counts for monitoring.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

// removeFromSlice removes a channel from a slice of channels.
func removeFromSlice(slice []chan Event, target <-chan Event) []chan Event {
	result := make([]chan Event, 0, len(slice))
	for _, ch := range slice {
		if ch != target {
			result = append(result, ch)
		}
	}
	return result
}

// ──────────────────────────────────────────────────────────────────────────────
// Convenience Methods
// ──────────────────────────────────────────────────────────────────────────────

// EmitAccessChange publishes an access state change.
func (h *Hub) EmitAccessChange(subject string, allowed bool, reason, detail string) {
	typ := EventAccessBlocked
	if allowed {
		typ = EventAccessAllowed
	}
	h.Publish(Event{
		Type:   typ,
		Source: "engine",
		Data: AccessChangeData{
			Subject: subject,
			Reason:  reason,
			Detail:  detail,
		},
	})
}

// EmitTimer publishes a timer lifecycle event.
func (h *Hub) EmitTimer(typ EventType, subject string, minutes int, until time.Time) {
	h.Publish(Event{
		Type:   typ,
		Source: "engine",
		Data: TimerData{
			Subject: subject,
			Minutes: minutes,
			Until:   until,
		},
	})
}

// EmitSkip publishes a skip lifecycle event.
func (h *Hub) EmitSkip(typ EventType, subject string, until time.Time) {
	h.Publish(Event{
		Type:   typ,
		Source: "engine",
		Data: SkipData{
			Subject: subject,
			Until:   until,
		},
	})
}

// EmitSchedule publishes a schedule edit event.
func (h *Hub) EmitSchedule(typ EventType, subject string, enabled bool, windows int) {
	h.Publish(Event{
		Type:   typ,
		Source: "engine",
		Data: ScheduleData{
			Subject: subject,
			Enabled: enabled,
			Windows: windows,
		},
	})
}

// EmitReconcile publishes a reconciliation tick summary.
func (h *Hub) EmitReconcile(corrections int, duration time.Duration, errMsg string) {
	h.Publish(Event{
		Type:   EventReconcileTick,
		Source: "engine",
		Data: ReconcileData{
			Corrections: corrections,
			DurationMS:  duration.Milliseconds(),
			Error:       errMsg,
		},
	})
}

// EmitDevice publishes a device block/unblock event.
func (h *Hub) EmitDevice(typ EventType, subject, mac string) {
	h.Publish(Event{
		Type:   typ,
		Source: "engine",
		Data: DeviceData{
			Subject: subject,
			MAC:     mac,
		},
	})
}

// EmitCollaborator publishes a reachability change.
func (h *Hub) EmitCollaborator(name string, reachable bool, latency time.Duration) {
	typ := EventCollaboratorDown
	if reachable {
		typ = EventCollaboratorUp
	}
	h.Publish(Event{
		Type:   typ,
		Source: "monitor",
		Data: CollaboratorData{
			Name:      name,
			Reachable: reachable,
			LatencyMS: float64(latency.Microseconds()) / 1000.0,
		},
	})
}
