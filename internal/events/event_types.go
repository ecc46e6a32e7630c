package events

import (
	"time"

	"github.com/marketplace-kit/session-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventSessionRevoked EventType = "session_revoked"
	EventSessionExpired EventType = "session_expired"
	EventPhoneVerified  EventType = "phone_verified"
	EventEmailVerified  EventType = "email_verified"
)

// Revocation and expiry reasons carried in event payloads.
const (
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout_all"
	ReasonPasswordChange = "password_change"
	ReasonIdle           = "idle"
	ReasonAbsolute       = "absolute"
)

// Event represents a session-lifecycle event emitted by services and the
// reaper.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SessionCreatedPayload payload.
type SessionCreatedPayload struct {
	Role      domain.Role `json:"role"`
	IP        string      `json:"ip,omitempty"`
	UserAgent string      `json:"user_agent,omitempty"`
}

// SessionRevokedPayload payload.
type SessionRevokedPayload struct {
	Reason string `json:"reason"`
	Count  int    `json:"count,omitempty"`
}

// SessionExpiredPayload payload.
type SessionExpiredPayload struct {
	Reason string      `json:"reason"`
	Role   domain.Role `json:"role"`
}

// VerificationPayload payload for phone/email confirmation events.
type VerificationPayload struct {
	Channel string `json:"channel"`
}
