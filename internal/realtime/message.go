package realtime

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/presence-service/internal/domain"
)

// Message types exchanged on the observer channel.
const (
	MessageRosterUpdated = "RosterUpdated"
	MessageConnected     = "connected"
	MessagePing          = "ping"
	MessagePong          = "pong"
	MessageJoin          = "join"
	MessageLeave         = "leave"
	MessageError         = "error"
)

// HeaderRosterTimestamp carries the unix millisecond server time at which a
// pulled roster was read. Push frames use the same clock in Timestamp.
const HeaderRosterTimestamp = "X-Roster-Timestamp"

// Message is the frame written to observers. Timestamp is unix milliseconds.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Group     string `json:"group,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// InboundMessage is a frame sent by an observer.
type InboundMessage struct {
	Type  string `json:"type"`
	Group string `json:"group,omitempty"`
}

// EncodeRoster builds a RosterUpdated frame. A nil snapshot encodes as [].
func EncodeRoster(snapshot domain.RosterSnapshot, at time.Time) ([]byte, error) {
	if snapshot == nil {
		snapshot = domain.RosterSnapshot{}
	}
	return json.Marshal(Message{Type: MessageRosterUpdated, Data: snapshot, Timestamp: at.UnixMilli()})
}

// Encode builds a control frame.
func Encode(msgType string, data any, at time.Time) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Data: data, Timestamp: at.UnixMilli()})
}

// DecodeRoster parses a RosterUpdated frame.
func DecodeRoster(frame []byte) (domain.RosterSnapshot, error) {
	var msg struct {
		Type string                `json:"type"`
		Data domain.RosterSnapshot `json:"data"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, err
	}
	return msg.Data, nil
}
