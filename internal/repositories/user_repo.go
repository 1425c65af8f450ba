package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/tradepost/sentinel/internal/database"
	"github.com/tradepost/sentinel/internal/models"
)

const userColumns = `id, email, password_hash, first_name, phone, role,
	totp_secret, totp_nonce, totp_enabled, totp_last_used_at, created_at, updated_at, deleted_at`

// UserRepository handles marketplace account persistence.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.Phone, &u.Role,
		&u.TOTPSecret, &u.TOTPNonce, &u.TOTPEnabled, &u.TOTPLastUsedAt,
		&u.CreatedAt, &u.UpdatedAt, &u.DeletedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &u, nil
}

// Create inserts a new account and returns it with generated fields filled in.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (email, password_hash, first_name, phone, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + userColumns

	created, err := scanUser(r.db.Pool.QueryRow(ctx, query,
		user.Email, user.PasswordHash, user.FirstName, user.Phone, user.Role))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

// GetByEmail returns the account for an email, excluding erased accounts.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND deleted_at IS NULL`
	return scanUser(r.db.Pool.QueryRow(ctx, query, email))
}

// GetByID returns the account for an id, excluding erased accounts.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	return scanUser(r.db.Pool.QueryRow(ctx, query, id))
}

// SetTOTPSecret stores the encrypted TOTP secret and nonce for the user.
// Enrollment is finalized separately by EnableTOTP once a code verifies.
func (r *UserRepository) SetTOTPSecret(ctx context.Context, id string, secret, nonce []byte) error {
	query := `
		UPDATE users
		SET totp_secret = $2, totp_nonce = $3, totp_enabled = false, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND deleted_at IS NULL
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, secret, nonce)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// EnableTOTP marks TOTP enrollment complete.
func (r *UserRepository) EnableTOTP(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET totp_enabled = true, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND deleted_at IS NULL
	`
	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetTOTPLastUsed stamps the moment a TOTP code was accepted. Validation
// rejects any code presented within the replay window after this stamp.
func (r *UserRepository) SetTOTPLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	query := `
		UPDATE users
		SET totp_last_used_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND deleted_at IS NULL
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, usedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Erase anonymizes the account in place for a GDPR erase: identifying fields
// are blanked and the row is tombstoned so historical foreign keys survive.
func (r *UserRepository) Erase(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET email = 'erased-' || id, password_hash = '', first_name = '', phone = '',
		    totp_secret = NULL, totp_nonce = NULL, totp_enabled = false, totp_last_used_at = NULL,
		    deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND deleted_at IS NULL
	`
	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
