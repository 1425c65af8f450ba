package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tradepost/sentinel/internal/auth"
	"github.com/tradepost/sentinel/internal/models"
	"github.com/tradepost/sentinel/internal/session"
	pkghttp "github.com/tradepost/sentinel/pkg/http"
)

// SessionHandler exposes the caller's server-side sessions.
type SessionHandler struct {
	store *session.Store
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(store *session.Store) *SessionHandler {
	return &SessionHandler{store: store}
}

// SessionResponse is the client view of a session; the bearer credential
// itself is never echoed back.
type SessionResponse struct {
	SessionID    string `json:"session_id"`
	Role         string `json:"role"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at"`
	LastActivity string `json:"last_activity"`
	Current      bool   `json:"current"`
}

func sessionToResponse(sess *models.Session, currentID string) *SessionResponse {
	return &SessionResponse{
		SessionID:    sess.SessionID,
		Role:         sess.Role,
		CreatedAt:    sess.CreatedAt.Format(timeFormat),
		ExpiresAt:    sess.ExpiresAt.Format(timeFormat),
		LastActivity: sess.LastActivity.Format(timeFormat),
		Current:      sess.SessionID == currentID,
	}
}

// Current handles GET /api/sessions/current. The middleware already resolved
// and refreshed the session.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromContext(r)
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, sessionToResponse(sess, sess.SessionID))
}

// List handles GET /api/sessions and returns every live session for the user.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromContext(r)
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessions, err := h.store.ForUser(r.Context(), sess.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list sessions")
		return
	}

	out := make([]*SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionToResponse(s, sess.SessionID))
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// Revoke handles DELETE /api/sessions/{sessionID}. A user may only revoke
// their own sessions.
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	current := auth.GetSessionFromContext(r)
	if current == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "Missing session id")
		return
	}

	target, err := h.store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrSessionExpired) {
			pkghttp.WriteNotFound(w, "Session not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to look up session")
		return
	}
	if target.UserID != current.UserID {
		pkghttp.WriteForbidden(w, "Cannot revoke another user's session")
		return
	}

	if err := h.store.Clear(r.Context(), sessionID); err != nil {
		pkghttp.WriteInternalError(w, "Failed to revoke session")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "session revoked"})
}

const timeFormat = "2006-01-02T15:04:05Z07:00"
