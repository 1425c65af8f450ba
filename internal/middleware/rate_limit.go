package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tradepost/sentinel/internal/ratelimit"
	pkghttp "github.com/tradepost/sentinel/pkg/http"
)

// RateLimitByIP applies a coarse per-IP ceiling using httprate's counter.
// This is the outer guard against floods; the per-identifier limiter below
// enforces the marketplace policy.
func RateLimitByIP(requests int, window time.Duration) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteRateLimited(w, window)
		}),
	)
}

// RateLimit enforces the fixed-window policy per client IP using the
// domain limiter, so API responses carry the exact reset time. Denied
// requests are not recorded against the window.
func RateLimit(limiter *ratelimit.Limiter, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ExtractClientIP(r, ipConfig)

			result := limiter.Check(ip)
			if !result.Allowed {
				pkghttp.WriteRateLimited(w, time.Until(result.ResetAt))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
