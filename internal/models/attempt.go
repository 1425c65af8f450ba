package models

import "time"

// LoginAttempt is the durable audit record of a single authentication attempt.
// The in-memory guard is authoritative for lockout decisions; these rows exist
// for audit trails and post-incident analysis.
type LoginAttempt struct {
	ID            string    `db:"id"`
	Identifier    string    `db:"identifier"` // normalized email or other guard key
	IPAddress     string    `db:"ip_address"`
	UserAgent     string    `db:"user_agent"`
	AttemptTime   time.Time `db:"attempt_time"`
	Success       bool      `db:"success"`
	FailureReason string    `db:"failure_reason"` // empty on success
	ExpiresAt     time.Time `db:"expires_at"`
}
