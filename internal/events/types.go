// Package events provides the daemon's pub/sub event bus. Access
// changes, timer and skip activity, and reconciliation results flow
// through the hub to the websocket stream and the notifier.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Access state changes (any cause)
	EventAccessAllowed EventType = "access.allowed"
	EventAccessBlocked EventType = "access.blocked"

	// Timed allow grants
	EventTimerStarted   EventType = "timer.started"
	EventTimerExpired   EventType = "timer.expired"
	EventTimerCancelled EventType = "timer.cancelled"

	// Schedule skips
	EventSkipStarted   EventType = "skip.started"
	EventSkipCancelled EventType = "skip.cancelled"

	// Schedule edits
	EventScheduleSaved    EventType = "schedule.saved"
	EventScheduleEnabled  EventType = "schedule.enabled"
	EventScheduleDisabled EventType = "schedule.disabled"

	// Engine activity
	EventReconcileTick EventType = "reconcile.tick"

	// Wireless device enforcement
	EventDeviceBlocked   EventType = "device.blocked"
	EventDeviceUnblocked EventType = "device.unblocked"

	// Collaborator reachability
	EventCollaboratorUp   EventType = "collaborator.up"
	EventCollaboratorDown EventType = "collaborator.down"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"` // Component that emitted: "engine", "api", "monitor"
	Data      interface{} `json:"data"`   // Type-specific payload
}

// ──────────────────────────────────────────────────────────────────────────────
// Type-Specific Payloads
// ──────────────────────────────────────────────────────────────────────────────

// AccessChangeData is the payload for EventAccessAllowed/EventAccessBlocked.
type AccessChangeData struct {
	Subject string `json:"subject"`
	Reason  string `json:"reason"` // "manual", "timer", "timer-expire", "skip", "schedule", "reconcile"
	Detail  string `json:"detail,omitempty"`
}

// TimerData is the payload for timer events.
type TimerData struct {
	Subject string    `json:"subject"`
	Minutes int       `json:"minutes,omitempty"`
	Until   time.Time `json:"until,omitempty"`
}

// SkipData is the payload for skip events.
type SkipData struct {
	Subject string    `json:"subject"`
	Until   time.Time `json:"until,omitempty"`
}

// ScheduleData is the payload for schedule edit events.
type ScheduleData struct {
	Subject string `json:"subject"`
	Enabled bool   `json:"enabled"`
	Windows int    `json:"windows"`
}

// ReconcileData is the payload for EventReconcileTick.
type ReconcileData struct {
	Corrections int    `json:"corrections"`
	DurationMS  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

// DeviceData is the payload for device block/unblock events.
type DeviceData struct {
	Subject string `json:"subject"`
	MAC     string `json:"mac"`
}

// CollaboratorData is the payload for reachability events.
type CollaboratorData struct {
	Name      string  `json:"name"` // "pfsense", "unifi"
	Reachable bool    `json:"reachable"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
}
