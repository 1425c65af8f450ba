package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tradepost/sentinel/internal/auth"
	"github.com/tradepost/sentinel/internal/models"
	pkghttp "github.com/tradepost/sentinel/pkg/http"
)

// PrivacyServiceInterface defines the interface for GDPR operations
type PrivacyServiceInterface interface {
	GetConsent(ctx context.Context, userID string) (*models.Consent, error)
	UpdateConsent(ctx context.Context, consent *models.Consent, ipAddress, userAgent string) error
	Export(ctx context.Context, userID, ipAddress, userAgent string) (*models.DataExport, error)
	Erase(ctx context.Context, userID, ipAddress string) error
}

// PrivacyHandler handles consent and data-rights requests
type PrivacyHandler struct {
	service  PrivacyServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewPrivacyHandler creates a new PrivacyHandler
func NewPrivacyHandler(service PrivacyServiceInterface, ipConfig *pkghttp.IPConfig) *PrivacyHandler {
	return &PrivacyHandler{service: service, ipConfig: ipConfig}
}

// ConsentRequest represents the request body for updating consent
type ConsentRequest struct {
	CookieConsent bool `json:"cookie_consent"`
	PrivacyMode   bool `json:"privacy_mode"`
	DoNotTrack    bool `json:"do_not_track"`
}

// EraseRequest confirms the destructive intent.
type EraseRequest struct {
	Confirm string `json:"confirm" validate:"required,eq=DELETE"`
}

// GetConsent handles GET /api/privacy/consent
func (h *PrivacyHandler) GetConsent(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromContext(r)
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	consent, err := h.service.GetConsent(r.Context(), sess.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to load consent")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, consent)
}

// UpdateConsent handles PUT /api/privacy/consent
func (h *PrivacyHandler) UpdateConsent(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromContext(r)
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	consent := &models.Consent{
		UserID:        sess.UserID,
		CookieConsent: req.CookieConsent,
		PrivacyMode:   req.PrivacyMode,
		DoNotTrack:    req.DoNotTrack,
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.service.UpdateConsent(r.Context(), consent, ipAddress, r.Header.Get("User-Agent")); err != nil {
		pkghttp.WriteInternalError(w, "Failed to update consent")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, consent)
}

// Export handles GET /api/privacy/export
func (h *PrivacyHandler) Export(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromContext(r)
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	export, err := h.service.Export(r.Context(), sess.UserID, ipAddress, r.Header.Get("User-Agent"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Account not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to export data")
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="tradepost-data-export.json"`)
	pkghttp.WriteJSON(w, http.StatusOK, export)
}

// Erase handles POST /api/privacy/erase. The body must confirm with the
// literal string DELETE; the erase clears the caller's sessions, so the
// response is the last authenticated one they receive.
func (h *PrivacyHandler) Erase(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromContext(r)
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req EraseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, "Erasure must be confirmed with DELETE")
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.service.Erase(r.Context(), sess.UserID, ipAddress); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Account not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to erase data")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "account data erased"})
}
