package domain

import "time"

// UserStatus represents lifecycle states for a marketplace account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is the domain model for marketplace accounts across all roles.
type User struct {
	ID            string
	Name          string
	Email         string
	Phone         string
	PasswordHash  string
	Role          Role
	Status        UserStatus
	EmailVerified bool
	PhoneVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
