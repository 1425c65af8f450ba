package routes

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tradepost/sentinel/internal/auth"
	"github.com/tradepost/sentinel/internal/handlers"
	"github.com/tradepost/sentinel/internal/middleware"
	"github.com/tradepost/sentinel/internal/models"
	"github.com/tradepost/sentinel/internal/ratelimit"
	pkghttp "github.com/tradepost/sentinel/pkg/http"
)

// Handlers bundles everything RegisterRoutes wires up.
type Handlers struct {
	Auth     *handlers.AuthHandler
	OTP      *handlers.OTPHandler
	Password *handlers.PasswordHandler
	Session  *handlers.SessionHandler
	Activity *handlers.ActivityHandler
	Privacy  *handlers.PrivacyHandler
	MFA      *handlers.MFAHandler
}

// RegisterRoutes registers all application routes. The strict API limiter
// fronts everything under /api; auth endpoints additionally get a tight
// per-IP ceiling against credential stuffing from a single address.
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	tokenManager *auth.TokenManager,
	sessions auth.SessionValidator,
	apiLimiter *ratelimit.Limiter,
	csrfManager *auth.CSRFTokenManager,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) {
	authBurst := middleware.RateLimitByIP(10, 1*time.Minute)

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(apiLimiter, ipConfig))

		// Public routes
		r.Group(func(r chi.Router) {
			r.With(authBurst).Post("/auth/login", h.Auth.Login)
			r.With(authBurst).Post("/auth/register", h.Auth.Register)
			r.With(authBurst).Post("/auth/refresh", h.Auth.Refresh)
			r.With(authBurst).Post("/auth/otp/request", h.OTP.Request)
			r.With(authBurst).Post("/auth/otp/verify", h.OTP.Verify)
			r.Post("/password/strength", h.Password.Strength)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(tokenManager, sessions))
			r.Use(middleware.CSRFProtection(csrfManager, logger))

			r.Post("/auth/logout", h.Auth.Logout)
			r.Post("/auth/logout-all", h.Auth.LogoutAll)

			r.Get("/sessions", h.Session.List)
			r.Get("/sessions/current", h.Session.Current)
			r.Delete("/sessions/{sessionID}", h.Session.Revoke)

			r.Get("/activity", h.Activity.Mine)

			r.Get("/privacy/consent", h.Privacy.GetConsent)
			r.Put("/privacy/consent", h.Privacy.UpdateConsent)
			r.Get("/privacy/export", h.Privacy.Export)
			r.Post("/privacy/erase", h.Privacy.Erase)

			r.Post("/mfa/setup", h.MFA.Setup)
			r.Post("/mfa/activate", h.MFA.Activate)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin))
				r.Get("/admin/activity/recent", h.Activity.Recent)
			})
		})
	})
}
