package domain

import "time"

// Session is one continuous connected period for a user. Rows are never reused:
// every connect opens a new one and disconnect only closes it.
type Session struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"userId"`
	StatusID       int        `json:"statusId"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
	SourceAddress  *string    `json:"sourceAddress,omitempty"`
	DeviceName     *string    `json:"deviceName,omitempty"`
	IsActive       bool       `json:"isActive"`
}

// ConnectInfo carries the optional client details recorded on connect.
type ConnectInfo struct {
	SourceAddress *string
	DeviceName    *string
}
