package dto

import (
	"time"

	"github.com/spec-kit/presence-service/internal/domain"
)

// RegisterRequest payload for new users.
type RegisterRequest struct {
	Username   string  `json:"username"`
	Password   string  `json:"password"`
	FullName   string  `json:"fullName"`
	Email      string  `json:"email"`
	Phone      *string `json:"phone"`
	Role       *string `json:"role"`
	Department *string `json:"department"`
	PhotoURL   *string `json:"photoUrl"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      UserResponse `json:"user"`
}

// UserResponse is the public profile of a user.
type UserResponse struct {
	ID         int64   `json:"id"`
	Username   string  `json:"username"`
	FullName   string  `json:"fullName"`
	Email      string  `json:"email"`
	Phone      *string `json:"phone,omitempty"`
	Role       *string `json:"role,omitempty"`
	Department *string `json:"department,omitempty"`
	PhotoURL   *string `json:"photoUrl,omitempty"`
}

// NewUserResponse maps a domain user, leaving out the password hash.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Username:   u.Username,
		FullName:   u.FullName,
		Email:      u.Email,
		Phone:      u.Phone,
		Role:       u.Role,
		Department: u.Department,
		PhotoURL:   u.PhotoURL,
	}
}
