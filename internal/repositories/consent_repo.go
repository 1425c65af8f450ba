package repositories

import (
	"context"

	"github.com/tradepost/sentinel/internal/database"
	"github.com/tradepost/sentinel/internal/models"
)

// ConsentRepository stores per-user privacy preferences.
type ConsentRepository struct {
	db *database.DB
}

// NewConsentRepository creates a new ConsentRepository.
func NewConsentRepository(db *database.DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

// Get returns the user's consent record, or models.ErrNotFound when the user
// has never expressed a preference.
func (r *ConsentRepository) Get(ctx context.Context, userID string) (*models.Consent, error) {
	query := `
		SELECT user_id, cookie_consent, privacy_mode, do_not_track, updated_at
		FROM user_consents WHERE user_id = $1
	`
	var c models.Consent
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&c.UserID, &c.CookieConsent, &c.PrivacyMode, &c.DoNotTrack, &c.UpdatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

// Upsert records the user's current preferences.
func (r *ConsentRepository) Upsert(ctx context.Context, consent *models.Consent) error {
	query := `
		INSERT INTO user_consents (user_id, cookie_consent, privacy_mode, do_not_track, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO UPDATE
		SET cookie_consent = EXCLUDED.cookie_consent,
		    privacy_mode = EXCLUDED.privacy_mode,
		    do_not_track = EXCLUDED.do_not_track,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.Pool.Exec(ctx, query,
		consent.UserID, consent.CookieConsent, consent.PrivacyMode, consent.DoNotTrack)
	return database.MapPostgresError(err)
}

// Delete removes the user's consent record. Part of the privacy erase.
func (r *ConsentRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM user_consents WHERE user_id = $1`, userID)
	return database.MapPostgresError(err)
}
