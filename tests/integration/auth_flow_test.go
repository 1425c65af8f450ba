package integration

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepost/sentinel/internal/models"
)

var (
	sharedDB     *TestDB
	sharedDBErr  error
	sharedDBOnce sync.Once
)

// testStack spins up the shared postgres container (once per package) and a
// fresh HTTP stack on top of it. Requires docker; run with -short to skip.
func testStack(t *testing.T) *TestServer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	sharedDBOnce.Do(func() {
		sharedDB, sharedDBErr = SetupTestDatabase(context.Background())
	})
	require.NoError(t, sharedDBErr, "postgres testcontainer failed to start")

	require.NoError(t, sharedDB.CleanupTables(context.Background()))

	ts, err := NewTestServer(sharedDB.DB)
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	return ts
}

func TestRegisterAndLoginFlow(t *testing.T) {
	ts := testStack(t)
	email, pass := TestUser("register")

	resp, err := ts.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":      email,
		"password":   pass,
		"first_name": "Sam",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	access, refresh, sessionID, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)
	assert.NotEmpty(t, sessionID)

	// Duplicate registration conflicts
	resp, err = ts.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":      email,
		"password":   pass,
		"first_name": "Sam",
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Wrong password is rejected
	resp, err = ts.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": "not-the-password1!",
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct password opens a second session
	resp, err = ts.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": pass,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	access, _, _, err = ExtractTokensFromResponse(resp)
	require.NoError(t, err)

	// Both outcomes land in the durable audit trail: the registration and the
	// login as successes, the rejected password as a failure
	var successRows, failureRows int
	require.NoError(t, sharedDB.Pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FILTER (WHERE success), COUNT(*) FILTER (WHERE NOT success)
		 FROM login_attempts WHERE identifier = $1`, email).Scan(&successRows, &failureRows))
	assert.Equal(t, 2, successRows)
	assert.Equal(t, 1, failureRows)

	resp, err = ts.RequestWithAuth(http.MethodGet, "/api/sessions", access, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listResp struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
			Current   bool   `json:"current"`
		} `json:"sessions"`
	}
	require.NoError(t, ParseJSONResponse(resp, &listResp))
	assert.Len(t, listResp.Sessions, 2)

	// Logout invalidates the access token even before it expires
	resp, err = ts.RequestWithAuth(http.MethodPost, "/api/auth/logout", access, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ts.RequestWithAuth(http.MethodGet, "/api/sessions", access, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginLockout(t *testing.T) {
	ts := testStack(t)

	user, err := SeedUser(context.Background(), sharedDB.Pool, "lockout@example.com", "Str0ng!passphrase", models.RoleBuyer)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		resp, err := ts.Request(http.MethodPost, "/api/auth/login", map[string]string{
			"email":    user.Email,
			"password": "wrong-password-1!",
		}, nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// The fifth failure trips the lockout
	resp, err := ts.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    user.Email,
		"password": "wrong-password-1!",
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Even the correct password is rejected while locked
	resp, err = ts.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    user.Email,
		"password": "Str0ng!passphrase",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	code, err := GetErrorCode(resp)
	require.NoError(t, err)
	assert.Equal(t, "account_locked", code)
}

func TestOTPCodeFlow(t *testing.T) {
	ts := testStack(t)

	resp, err := ts.Request(http.MethodPost, "/api/auth/otp/request", map[string]string{
		"email": "otp-user@example.com",
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sent := ts.EmailService.GetLastEmail()
	require.NotNil(t, sent)
	assert.Equal(t, "otp-user@example.com", sent.To)
	require.Len(t, sent.Code, 6)

	// Wrong code first
	wrong := "000000"
	if sent.Code == wrong {
		wrong = "000001"
	}
	resp, err = ts.Request(http.MethodPost, "/api/auth/otp/verify", map[string]string{
		"email": "otp-user@example.com",
		"code":  wrong,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Real code verifies exactly once
	resp, err = ts.Request(http.MethodPost, "/api/auth/otp/verify", map[string]string{
		"email": "otp-user@example.com",
		"code":  sent.Code,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ts.Request(http.MethodPost, "/api/auth/otp/verify", map[string]string{
		"email": "otp-user@example.com",
		"code":  sent.Code,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPrivacyEraseFlow(t *testing.T) {
	ts := testStack(t)
	email, pass := TestUser("erase")

	resp, err := ts.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":      email,
		"password":   pass,
		"first_name": "Erin",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	access, _, _, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)

	// Record a consent preference first
	resp, err = ts.RequestWithAuth(http.MethodPut, "/api/privacy/consent", access, map[string]bool{
		"cookie_consent": true,
		"privacy_mode":   true,
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Export bundles the profile without credential material
	resp, err = ts.RequestWithAuth(http.MethodGet, "/api/privacy/export", access, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var export struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
		Consent struct {
			CookieConsent bool `json:"cookie_consent"`
		} `json:"consent"`
	}
	require.NoError(t, ParseJSONResponse(resp, &export))
	assert.Equal(t, email, export.User.Email)
	assert.True(t, export.Consent.CookieConsent)

	// Erase tombstones the account and kills the session
	resp, err = ts.RequestWithAuth(http.MethodPost, "/api/privacy/erase", access, map[string]string{
		"confirm": "DELETE",
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ts.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": pass,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
