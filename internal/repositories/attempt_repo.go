package repositories

import (
	"context"
	"time"

	"github.com/tradepost/sentinel/internal/database"
	"github.com/tradepost/sentinel/internal/models"
)

// AttemptRepository persists the audit trail of authentication attempts.
// Lockout decisions come from the in-memory guard; these rows back audits
// and the privacy export.
type AttemptRepository struct {
	db *database.DB
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Record inserts a login attempt row.
func (r *AttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (identifier, ip_address, user_agent, success, failure_reason, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		attempt.Identifier,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Success,
		attempt.FailureReason,
		attempt.ExpiresAt,
	)
	return database.MapPostgresError(err)
}

// CountFailedSince returns the number of failed attempts for an identifier
// within the window. Used by audit queries, not by the live guard.
func (r *AttemptRepository) CountFailedSince(ctx context.Context, identifier string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE identifier = $1 AND success = false AND attempt_time >= $2
	`
	var count int
	err := r.db.Pool.QueryRow(ctx, query, identifier, since).Scan(&count)
	return count, database.MapPostgresError(err)
}

// DeleteExpired removes attempt rows past their retention expiry.
func (r *AttemptRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM login_attempts WHERE expires_at <= CURRENT_TIMESTAMP`
	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteForIdentifier removes every attempt row for an identifier. Part of
// the privacy erase.
func (r *AttemptRepository) DeleteForIdentifier(ctx context.Context, identifier string) (int64, error) {
	query := `DELETE FROM login_attempts WHERE identifier = $1`
	tag, err := r.db.Pool.Exec(ctx, query, identifier)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
