package handlers

import (
	"encoding/json"
	"net/http"

	pkghttp "github.com/tradepost/sentinel/pkg/http"
	"github.com/tradepost/sentinel/pkg/password"
)

// PasswordHandler exposes the strength assessor so the signup form can show
// live feedback backed by the same rules registration enforces.
type PasswordHandler struct{}

// NewPasswordHandler creates a new PasswordHandler
func NewPasswordHandler() *PasswordHandler {
	return &PasswordHandler{}
}

// StrengthRequest represents the request body for a strength check
type StrengthRequest struct {
	Password string `json:"password" validate:"required,max=72"`
}

// Strength handles POST /api/password/strength. The password is assessed and
// discarded; nothing is logged or stored.
func (h *PasswordHandler) Strength(w http.ResponseWriter, r *http.Request) {
	var req StrengthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, password.Assess(req.Password))
}
