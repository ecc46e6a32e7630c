package domain

import "time"

// Session is the server-side record backing one issued access token.
// LastActivity moves forward on authenticated traffic; AbsoluteExpiry is
// fixed at creation and never extended.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Role           Role      `json:"role"`
	IssuedAt       time.Time `json:"issued_at"`
	LastActivity   time.Time `json:"last_activity"`
	AbsoluteExpiry time.Time `json:"absolute_expiry"`
	UserAgent      string    `json:"user_agent,omitempty"`
	IP             string    `json:"ip,omitempty"`
}

// IdleDeadline returns the instant the session dies if no further activity
// arrives, given the idle budget for its role.
func (s *Session) IdleDeadline(idle time.Duration) time.Time {
	return s.LastActivity.Add(idle)
}

// IdleExpired reports whether the idle budget has been exhausted at now.
func (s *Session) IdleExpired(now time.Time, idle time.Duration) bool {
	return !now.Before(s.IdleDeadline(idle))
}

// AbsoluteExpired reports whether the hard lifetime cap has passed at now.
func (s *Session) AbsoluteExpired(now time.Time) bool {
	return !now.Before(s.AbsoluteExpiry)
}
