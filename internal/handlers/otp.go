package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tradepost/sentinel/internal/models"
	"github.com/tradepost/sentinel/internal/services"
	pkghttp "github.com/tradepost/sentinel/pkg/http"
)

// OTPServiceInterface defines the interface for one-time code flows
type OTPServiceInterface interface {
	Request(ctx context.Context, email, ipAddress, userAgent string) error
	Verify(ctx context.Context, email, code, ipAddress, userAgent string) error
}

// OTPHandler handles email one-time-code requests
type OTPHandler struct {
	service  OTPServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewOTPHandler creates a new OTPHandler
func NewOTPHandler(service OTPServiceInterface, ipConfig *pkghttp.IPConfig) *OTPHandler {
	return &OTPHandler{service: service, ipConfig: ipConfig}
}

// RequestOTPRequest represents the request body for requesting a code
type RequestOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// VerifyOTPRequest represents the request body for verifying a code
type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// Request handles POST /api/auth/otp/request. The response never reveals
// whether the email belongs to an account.
func (h *OTPHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req RequestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	err := h.service.Request(r.Context(), req.Email, ipAddress, r.Header.Get("User-Agent"))
	if err != nil {
		var rateErr *services.RateLimitError
		if errors.As(err, &rateErr) {
			pkghttp.WriteRateLimited(w, rateErr.RetryIn())
			return
		}
		pkghttp.WriteInternalError(w, "Failed to send code")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "If the address is registered, a code is on its way",
	})
}

// Verify handles POST /api/auth/otp/verify
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	err := h.service.Verify(r.Context(), req.Email, req.Code, ipAddress, r.Header.Get("User-Agent"))
	if err != nil {
		var lockErr *services.LockoutError
		switch {
		case errors.As(err, &lockErr):
			pkghttp.WriteLocked(w, lockErr.RetryAfter)
		case errors.Is(err, models.ErrCodeExpired):
			pkghttp.WriteError(w, http.StatusUnauthorized, "code_expired", "The code has expired; request a new one")
		case errors.Is(err, models.ErrCodeInvalid):
			pkghttp.WriteError(w, http.StatusUnauthorized, "code_invalid", "The code is not valid")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid request")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "code verified"})
}
