package auth

import (
	"net/http"
	"time"
)

// Cookie names used by the auth surface. The refresh token is httpOnly; the
// CSRF token must stay readable so the frontend can echo it in a header.
const (
	refreshCookieName = "refresh_token"
	csrfCookieName    = "csrf_token"
)

// CookieConfig holds the per-deployment cookie attributes.
type CookieConfig struct {
	Domain   string // empty = current host only
	Secure   bool   // HTTPS only
	SameSite string // "strict", "lax", or "none"
}

// SetRefreshTokenCookie stores the refresh token in an httpOnly cookie so it
// never crosses into script-readable storage.
func SetRefreshTokenCookie(w http.ResponseWriter, refreshToken string, maxAge int, config CookieConfig) {
	writeCookie(w, refreshCookieName, refreshToken, maxAge, true, config)
}

// SetCSRFTokenCookie stores a CSRF token in a readable cookie. The frontend
// echoes it back in the X-CSRF-Token header on state-changing requests.
func SetCSRFTokenCookie(w http.ResponseWriter, csrfToken string, maxAge int, config CookieConfig) {
	writeCookie(w, csrfCookieName, csrfToken, maxAge, false, config)
}

// ClearRefreshTokenCookie expires the refresh token cookie.
func ClearRefreshTokenCookie(w http.ResponseWriter, config CookieConfig) {
	writeCookie(w, refreshCookieName, "", -1, true, config)
}

// ClearCSRFTokenCookie expires the CSRF token cookie.
func ClearCSRFTokenCookie(w http.ResponseWriter, config CookieConfig) {
	writeCookie(w, csrfCookieName, "", -1, false, config)
}

// GetRefreshTokenCookie reads the refresh token from the request cookies.
func GetRefreshTokenCookie(r *http.Request) (string, error) {
	return readCookie(r, refreshCookieName)
}

// GetCSRFTokenCookie reads the CSRF token from the request cookies.
func GetCSRFTokenCookie(r *http.Request) (string, error) {
	return readCookie(r, csrfCookieName)
}

func writeCookie(w http.ResponseWriter, name, value string, maxAge int, httpOnly bool, config CookieConfig) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	}
	if maxAge > 0 {
		cookie.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
	}
	http.SetCookie(w, cookie)
}

func readCookie(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
