package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Security state errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrSessionExpired    = errors.New("session has expired")
	ErrCodeExpired       = errors.New("verification code has expired")
	ErrCodeInvalid       = errors.New("verification code is invalid")
	ErrTOTPRequired      = errors.New("totp code required")
)
