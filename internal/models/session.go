package models

import "time"

// Session represents a logical authenticated session, held server-side and
// separate from the bearer credential (which travels in an httpOnly cookie).
// A session is created on login, refreshed on every authenticated read, and
// deleted the moment it is observed past ExpiresAt. Expiry is monotonic - an
// expired session is never revived without a new login.
type Session struct {
	SessionID    string    `json:"session_id" redis:"session_id"`
	UserID       string    `json:"user_id" redis:"user_id"`
	Role         string    `json:"role" redis:"role"`
	Email        string    `json:"email" redis:"email"`
	FirstName    string    `json:"first_name" redis:"first_name"`
	CreatedAt    time.Time `json:"created_at" redis:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" redis:"expires_at"`
	LastActivity time.Time `json:"last_activity" redis:"last_activity"`
}

// Expired reports whether the session is past its absolute expiry at t.
func (s *Session) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// IdleSince returns how long the session has been without activity at t.
func (s *Session) IdleSince(t time.Time) time.Duration {
	return t.Sub(s.LastActivity)
}
