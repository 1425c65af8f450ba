package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tradepost/sentinel/internal/models"
	httputil "github.com/tradepost/sentinel/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
	// SessionContextKey is the key for storing the resolved session in context
	SessionContextKey contextKey = "session"
)

// SessionValidator resolves a session id to a live session. Lookups refresh
// the session's last-activity stamp and report expiry.
type SessionValidator interface {
	Get(ctx context.Context, sessionID string) (*models.Session, error)
}

// Middleware validates the bearer token, resolves its session against the
// server-side store, and injects both into the request context. A token whose
// session has been cleared or timed out fails with a session_expired response
// regardless of the token's own expiry.
func Middleware(tm *TokenManager, sessions SessionValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				httputil.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			// Refresh tokens are only accepted by the refresh endpoint
			if claims.Type == "refresh" {
				httputil.WriteUnauthorized(w, "refresh tokens cannot be used for API access")
				return
			}

			sess, err := sessions.Get(r.Context(), claims.SessionID)
			if err != nil {
				if errors.Is(err, models.ErrSessionExpired) {
					httputil.WriteSessionExpired(w)
					return
				}
				if errors.Is(err, models.ErrNotFound) {
					httputil.WriteUnauthorized(w, "session no longer exists")
					return
				}
				httputil.WriteInternalError(w, "failed to resolve session")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			ctx = context.WithValue(ctx, SessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole enforces role-based access using the role captured in the
// session record at login.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := GetSessionFromContext(r)
			if sess == nil {
				httputil.WriteUnauthorized(w, "unauthorized")
				return
			}

			if _, ok := allowed[sess.Role]; !ok {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetSessionFromContext extracts the resolved session from request context
func GetSessionFromContext(r *http.Request) *models.Session {
	sess, ok := r.Context().Value(SessionContextKey).(*models.Session)
	if !ok {
		return nil
	}
	return sess
}
