package dto

import (
	"time"

	"github.com/marketplace-kit/session-service/internal/domain"
)

// RegisterRequest payload for new shopper accounts.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	Phone         string      `json:"phone,omitempty"`
	Role          domain.Role `json:"role"`
	EmailVerified bool        `json:"email_verified"`
	PhoneVerified bool        `json:"phone_verified"`
}

// SessionResponse is the public view of one session record. The two
// deadline fields let clients arm their idle monitors without knowing
// the server's policy table.
type SessionResponse struct {
	ID                string    `json:"id"`
	IssuedAt          time.Time `json:"issued_at"`
	LastActivity      time.Time `json:"last_activity"`
	IdleExpiresAt     time.Time `json:"idle_expires_at"`
	AbsoluteExpiresAt time.Time `json:"absolute_expires_at"`
	UserAgent         string    `json:"user_agent,omitempty"`
	IP                string    `json:"ip,omitempty"`
	Current           bool      `json:"current"`
}

// MeResponse describes the authenticated caller and its session.
type MeResponse struct {
	User    UserResponse    `json:"user"`
	Session SessionResponse `json:"session"`
}

// LogoutResponse reports whether a server-side session was revoked.
type LogoutResponse struct {
	Revoked bool `json:"revoked"`
}

// LogoutAllResponse reports how many sessions were revoked.
type LogoutAllResponse struct {
	Revoked int `json:"revoked"`
}

// VerifyPhoneRequest carries the 6-digit code.
type VerifyPhoneRequest struct {
	Code string `json:"code"`
}

// VerifyEmailRequest carries the signed token from the mailed link.
type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// ResendResponse describes a successful resend.
type ResendResponse struct {
	RetryAfterSec int `json:"retry_after_sec"`
	ValidForSec   int `json:"valid_for_sec,omitempty"`
}

// ChangePasswordRequest payload for password rotation.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// NewUserResponse maps a domain user to its public view.
func NewUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:            user.ID,
		Name:          user.Name,
		Email:         user.Email,
		Phone:         user.Phone,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		PhoneVerified: user.PhoneVerified,
	}
}

// NewSessionResponse maps a session plus its idle budget to the public
// view. current marks the record backing the caller's own token.
func NewSessionResponse(sess *domain.Session, idle time.Duration, current bool) SessionResponse {
	return SessionResponse{
		ID:                sess.ID,
		IssuedAt:          sess.IssuedAt,
		LastActivity:      sess.LastActivity,
		IdleExpiresAt:     sess.IdleDeadline(idle),
		AbsoluteExpiresAt: sess.AbsoluteExpiry,
		UserAgent:         sess.UserAgent,
		IP:                sess.IP,
		Current:           current,
	}
}
