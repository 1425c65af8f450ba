package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tradepost/sentinel/internal/auth"
	"github.com/tradepost/sentinel/internal/models"
	pkghttp "github.com/tradepost/sentinel/pkg/http"
)

// MFAUserRepository is the persistence surface for TOTP enrollment.
type MFAUserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetTOTPSecret(ctx context.Context, id string, secret, nonce []byte) error
	EnableTOTP(ctx context.Context, id string) error
	SetTOTPLastUsed(ctx context.Context, id string, usedAt time.Time) error
}

// MFAHandler handles authenticator-app enrollment. Enrollment is two-phase:
// Setup stores the encrypted secret, Activate flips it on once the user
// proves they can produce a valid code.
type MFAHandler struct {
	users       MFAUserRepository
	totpManager *auth.TOTPManager
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(users MFAUserRepository, totpManager *auth.TOTPManager) *MFAHandler {
	return &MFAHandler{users: users, totpManager: totpManager}
}

// SetupResponse carries what the user needs to configure their app.
type SetupResponse struct {
	Secret    string `json:"secret"`
	QRCodeURL string `json:"qr_code_url"`
}

// ActivateRequest represents the request body for activating TOTP
type ActivateRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// Setup handles POST /api/mfa/setup
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	if h.totpManager == nil {
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "totp_unavailable", "Authenticator enrollment is not enabled")
		return
	}

	sess := auth.GetSessionFromContext(r)
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	encrypted, nonce, secret, qrDataURL, err := h.totpManager.Enroll(sess.Email)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to generate TOTP secret")
		return
	}

	if err := h.users.SetTOTPSecret(r.Context(), sess.UserID, encrypted, nonce); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Account not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to store TOTP secret")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SetupResponse{Secret: secret, QRCodeURL: qrDataURL})
}

// Activate handles POST /api/mfa/activate
func (h *MFAHandler) Activate(w http.ResponseWriter, r *http.Request) {
	if h.totpManager == nil {
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "totp_unavailable", "Authenticator enrollment is not enabled")
		return
	}

	sess := auth.GetSessionFromContext(r)
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.users.GetByID(r.Context(), sess.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to load account")
		return
	}
	if user.TOTPSecret == nil {
		pkghttp.WriteBadRequest(w, "TOTP setup has not been started")
		return
	}

	secret, err := h.totpManager.DecryptSecret(user.TOTPSecret, user.TOTPNonce)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to read TOTP secret")
		return
	}

	valid, err := h.totpManager.Validate(secret, req.Code, user.TOTPLastUsedAt)
	if err != nil || !valid {
		pkghttp.WriteError(w, http.StatusUnauthorized, "code_invalid", "The code is not valid")
		return
	}

	if err := h.users.EnableTOTP(r.Context(), sess.UserID); err != nil {
		pkghttp.WriteInternalError(w, "Failed to enable TOTP")
		return
	}

	// Burn the activation code so it cannot be replayed at the first login
	_ = h.users.SetTOTPLastUsed(r.Context(), sess.UserID, time.Now())

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "totp enabled"})
}
