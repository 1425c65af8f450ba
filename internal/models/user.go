package models

import "time"

// Marketplace roles
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// User is a marketplace account. Only the fields the security core needs
// live here; catalog and order data belong to the marketplace backend.
type User struct {
	ID             string     `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	FirstName      string     `db:"first_name" json:"first_name"`
	Phone          string     `db:"phone" json:"phone"`
	Role           string     `db:"role" json:"role"`
	TOTPSecret     []byte     `db:"totp_secret" json:"-"` // AES-GCM encrypted, nil when not enrolled
	TOTPNonce      []byte     `db:"totp_nonce" json:"-"`
	TOTPEnabled    bool       `db:"totp_enabled" json:"totp_enabled"`
	TOTPLastUsedAt *time.Time `db:"totp_last_used_at" json:"-"` // replay guard for accepted codes
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"-"`
}
