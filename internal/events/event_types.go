package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionConnected    EventType = "session_connected"
	EventSessionDisconnected EventType = "session_disconnected"
	EventStatusChanged       EventType = "status_changed"
)

// PresenceEventTypes lists every event that changes the roster.
func PresenceEventTypes() []EventType {
	return []EventType{EventSessionConnected, EventSessionDisconnected, EventStatusChanged}
}

// Event represents a committed presence mutation.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    int64     `json:"user_id"`
	SessionID int64     `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// SessionConnectedPayload payload.
type SessionConnectedPayload struct {
	StatusID      int     `json:"status_id"`
	SourceAddress *string `json:"source_address,omitempty"`
	DeviceName    *string `json:"device_name,omitempty"`
}

// StatusChangedPayload payload.
type StatusChangedPayload struct {
	StatusID int     `json:"status_id"`
	Motive   *string `json:"motive,omitempty"`
}
