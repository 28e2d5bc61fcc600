package domain

import "time"

// User is the identity and profile of a team member. Presence code treats it as read-only.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	FullName     string
	Email        string
	Phone        *string
	Role         *string
	Department   *string
	PhotoURL     *string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}
