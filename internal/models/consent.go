package models

import "time"

// Consent holds a user's privacy preferences.
type Consent struct {
	UserID        string    `db:"user_id" json:"user_id"`
	CookieConsent bool      `db:"cookie_consent" json:"cookie_consent"`
	PrivacyMode   bool      `db:"privacy_mode" json:"privacy_mode"`
	DoNotTrack    bool      `db:"do_not_track" json:"do_not_track"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// DataExport is the GDPR-style bundle returned to a user requesting their data.
type DataExport struct {
	User       *User            `json:"user"`
	Consent    *Consent         `json:"consent,omitempty"`
	Sessions   []*Session       `json:"sessions"`
	Activity   []*ActivityEntry `json:"activity"`
	ExportedAt time.Time        `json:"exported_at"`
}
