package domain

import "time"

// RosterEntry is the denormalized presence view of one active session.
type RosterEntry struct {
	UserID           int64     `json:"userId"`
	FullName         string    `json:"fullName"`
	Email            string    `json:"email"`
	Phone            *string   `json:"phone,omitempty"`
	Role             *string   `json:"role,omitempty"`
	Department       *string   `json:"department,omitempty"`
	PhotoURL         *string   `json:"photoUrl,omitempty"`
	SessionID        int64     `json:"sessionId"`
	StatusID         int       `json:"statusId"`
	Status           string    `json:"estado"`
	StatusColor      string    `json:"statusColor"`
	StatusIcon       *string   `json:"statusIcon,omitempty"`
	ConnectedAt      time.Time `json:"connectedAt"`
	SourceAddress    *string   `json:"sourceAddress,omitempty"`
	DeviceName       *string   `json:"deviceName,omitempty"`
	MinutesConnected int       `json:"minutesConnected"`
}

// RosterSnapshot is the full roster, earliest connection first.
type RosterSnapshot []RosterEntry
