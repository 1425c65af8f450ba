package middleware

import (
	"log/slog"
	"net/http"

	"github.com/tradepost/sentinel/internal/auth"
)

// CSRFProtection validates CSRF tokens on state-changing requests.
// Authenticated requests validate against the per-user token; public
// endpoints fall back to the double-submit cookie pattern.
func CSRFProtection(csrfManager *auth.CSRFTokenManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			claims := auth.GetUserFromContext(r)

			csrfToken := r.Header.Get("X-CSRF-Token")
			if csrfToken == "" {
				if cookie, err := r.Cookie("csrf_token"); err == nil {
					csrfToken = cookie.Value
				}
			}

			if csrfToken == "" {
				logger.Warn("CSRF token missing in request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				http.Error(w, "CSRF token missing", http.StatusForbidden)
				return
			}

			if claims != nil {
				if !csrfManager.ValidateToken(csrfToken, claims.UserID) {
					logger.Warn("CSRF token validation failed",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("user_id", claims.UserID))
					http.Error(w, "CSRF token invalid", http.StatusForbidden)
					return
				}
			} else {
				csrfCookie, err := r.Cookie("csrf_token")
				if err != nil || csrfCookie.Value != csrfToken {
					logger.Warn("CSRF token validation failed for public endpoint",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path))
					http.Error(w, "CSRF token invalid", http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
