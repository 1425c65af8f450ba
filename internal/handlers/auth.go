package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tradepost/sentinel/internal/auth"
	"github.com/tradepost/sentinel/internal/models"
	"github.com/tradepost/sentinel/internal/services"
	pkghttp "github.com/tradepost/sentinel/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, input services.LoginInput) (*services.AuthResponse, error)
	CompleteTOTPLogin(ctx context.Context, totpManager *auth.TOTPManager, input services.LoginInput, code string) (*services.AuthResponse, error)
	Register(ctx context.Context, email, password, firstName, phone, role string, input services.LoginInput) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	Logout(ctx context.Context, accessToken, ipAddress, userAgent string) error
	LogoutAll(ctx context.Context, userID string) (int, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service      AuthServiceInterface
	totpManager  *auth.TOTPManager
	csrfManager  *auth.CSRFTokenManager
	cookieConfig auth.CookieConfig
	ipConfig     *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler. csrfManager may be nil, in which
// case no CSRF cookie is issued alongside the session.
func NewAuthHandler(service AuthServiceInterface, totpManager *auth.TOTPManager, csrfManager *auth.CSRFTokenManager, cookieConfig auth.CookieConfig, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:      service,
		totpManager:  totpManager,
		csrfManager:  csrfManager,
		cookieConfig: cookieConfig,
		ipConfig:     ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totp_code,omitempty" validate:"omitempty,len=6,numeric"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"required,min=1,max=100"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
	Role      string `json:"role" validate:"omitempty,oneof=buyer seller"`
}

// RefreshTokenRequest represents the request body for token refresh; the
// refresh token usually arrives in the httpOnly cookie instead.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) loginInput(r *http.Request, email, password string) services.LoginInput {
	return services.LoginInput{
		Email:     email,
		Password:  password,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// writeAuthError maps service errors onto the response vocabulary. Account
// state details collapse into generic messages to prevent enumeration; only
// rate limits and lockouts disclose timing, which the client needs anyway.
func writeAuthError(w http.ResponseWriter, err error) {
	var rateErr *services.RateLimitError
	var lockErr *services.LockoutError

	switch {
	case errors.As(err, &rateErr):
		pkghttp.WriteRateLimited(w, rateErr.RetryIn())
	case errors.As(err, &lockErr):
		pkghttp.WriteLocked(w, lockErr.RetryAfter)
	case errors.Is(err, models.ErrTOTPRequired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "totp_required", "Enter the code from your authenticator app")
	case errors.Is(err, models.ErrSessionExpired):
		pkghttp.WriteSessionExpired(w)
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "An account with this email already exists")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	input := h.loginInput(r, req.Email, req.Password)

	var resp *services.AuthResponse
	var err error
	if req.TOTPCode != "" {
		resp, err = h.service.CompleteTOTPLogin(r.Context(), h.totpManager, input, req.TOTPCode)
	} else {
		resp, err = h.service.Login(r.Context(), input)
	}
	if err != nil {
		writeAuthError(w, err)
		return
	}

	h.setSessionCookies(w, resp)
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	input := h.loginInput(r, req.Email, req.Password)
	resp, err := h.service.Register(r.Context(), req.Email, req.Password, req.FirstName, req.Phone, req.Role, input)
	if err != nil {
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrInternalServer) {
			writeAuthError(w, err)
			return
		}
		// Validation failures from the service carry their own message
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.setSessionCookies(w, resp)
	pkghttp.WriteJSON(w, http.StatusCreated, resp)
}

// Refresh handles POST /api/auth/refresh. The refresh token is read from the
// httpOnly cookie, falling back to the request body for non-browser clients.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, err := auth.GetRefreshTokenCookie(r)
	if err != nil || refreshToken == "" {
		var req RefreshTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			refreshToken = req.RefreshToken
		}
	}
	if refreshToken == "" {
		pkghttp.WriteUnauthorized(w, "Missing refresh token")
		return
	}

	resp, err := h.service.Refresh(r.Context(), refreshToken)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	h.setSessionCookies(w, resp)
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	accessToken := bearerToken(r)
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.service.Logout(r.Context(), accessToken, ipAddress, r.Header.Get("User-Agent")); err != nil {
		writeAuthError(w, err)
		return
	}

	h.revokeCSRF(r)
	auth.ClearRefreshTokenCookie(w, h.cookieConfig)
	auth.ClearCSRFTokenCookie(w, h.cookieConfig)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// LogoutAll handles POST /api/auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	cleared, err := h.service.LogoutAll(r.Context(), claims.UserID)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	h.revokeCSRF(r)
	auth.ClearRefreshTokenCookie(w, h.cookieConfig)
	auth.ClearCSRFTokenCookie(w, h.cookieConfig)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]int{"sessions_cleared": cleared})
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, resp *services.AuthResponse) {
	// Refresh token lives for 24h; the cookie matches
	auth.SetRefreshTokenCookie(w, resp.RefreshToken, 24*60*60, h.cookieConfig)

	if h.csrfManager != nil && resp.User != nil {
		if token, err := h.csrfManager.GenerateToken(resp.User.ID); err == nil {
			// Readable cookie; the frontend echoes it in X-CSRF-Token
			auth.SetCSRFTokenCookie(w, token, 15*60, h.cookieConfig)
		}
	}
}

// revokeCSRF invalidates the CSRF token presented with the request so it
// dies with the session instead of living out its TTL.
func (h *AuthHandler) revokeCSRF(r *http.Request) {
	if h.csrfManager == nil {
		return
	}
	if token := r.Header.Get("X-CSRF-Token"); token != "" {
		h.csrfManager.RevokeToken(token)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
