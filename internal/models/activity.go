package models

import (
	"time"

	"github.com/google/uuid"
)

// Well-known activity actions
const (
	ActivityLogin          = "login"
	ActivityLoginFailed    = "login_failed"
	ActivityLogout         = "logout"
	ActivityRegister       = "register"
	ActivityOTPRequested   = "otp_requested"
	ActivityOTPVerified    = "otp_verified"
	ActivityOTPFailed      = "otp_failed"
	ActivitySessionExpired = "session_expired"
	ActivityConsentUpdated = "consent_updated"
	ActivityDataExported   = "data_exported"
	ActivityDataErased     = "data_erased"
)

// ActivityEntry is a single client-observed event in the activity log.
type ActivityEntry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Action    string    `db:"action" json:"action"`
	Details   string    `db:"details" json:"details"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	SessionID string    `db:"session_id" json:"session_id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}
