package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the JWT claims carried by access tokens. SessionID binds
// the token to a server-side session record so that clearing the session
// invalidates the token even before its own expiry.
type TokenClaims struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// OTPCode is a short-lived one-time code sent by email. Only the bcrypt hash
// of the code is kept.
type OTPCode struct {
	Identifier string // normalized email the code was sent to
	CodeHash   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the code is past its validity at t.
func (c *OTPCode) Expired(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}
