package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/tradepost/sentinel/internal/activity"
	"github.com/tradepost/sentinel/internal/auth"
	"github.com/tradepost/sentinel/internal/models"
	pkghttp "github.com/tradepost/sentinel/pkg/http"
)

// ActivityReader pages through the durable activity store.
type ActivityReader interface {
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.ActivityEntry, error)
}

// ActivityHandler serves activity history: the in-memory buffer for recent
// events, Postgres for anything older.
type ActivityHandler struct {
	buffer *activity.Logger
	db     ActivityReader
}

// NewActivityHandler creates a new ActivityHandler
func NewActivityHandler(buffer *activity.Logger, db ActivityReader) *ActivityHandler {
	return &ActivityHandler{buffer: buffer, db: db}
}

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// Mine handles GET /api/activity and returns the caller's history from the
// durable store, newest first.
func (h *ActivityHandler) Mine(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromContext(r)
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	limit, offset := pagination(r)
	entries, err := h.db.GetByUserID(r.Context(), sess.UserID, limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to load activity")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

// Recent handles GET /api/admin/activity/recent: the live in-memory tail
// across all users. Admin only.
func (h *ActivityHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"activity": h.buffer.Recent(limit),
		"buffered": h.buffer.Len(),
	})
}
