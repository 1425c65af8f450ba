package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradepost/sentinel/internal/activity"
	"github.com/tradepost/sentinel/internal/auth"
	"github.com/tradepost/sentinel/internal/guard"
	"github.com/tradepost/sentinel/internal/models"
	"github.com/tradepost/sentinel/internal/ratelimit"
	"github.com/tradepost/sentinel/internal/session"
	pkglogger "github.com/tradepost/sentinel/pkg/logger"
)

type authFixture struct {
	service  *AuthService
	users    *mockUserRepo
	attempts *mockAttemptRepo
	sessions *session.Store
	guard    *guard.Guard
	limiter  *ratelimit.Limiter
	activity *activity.Logger
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	logger := discardLogger()

	users := newMockUserRepo()
	attempts := &mockAttemptRepo{}
	sessions := session.NewStore(session.NewMemoryBackend(), 2*time.Hour, logger)
	loginGuard := guard.New(guard.LoginConfig(), logger)
	limiter := ratelimit.New(ratelimit.StrictConfig())
	activityLog := activity.NewLogger(logger, nil)
	t.Cleanup(activityLog.Close)

	tm := auth.NewTokenManager("test-secret-key-32-characters-ok", 15*time.Minute, 24*time.Hour)
	timing := auth.NewTimingDelay(auth.TimingConfig{})

	service := NewAuthService(users, attempts, sessions, limiter, loginGuard, activityLog,
		tm, timing, pkglogger.NewSecurityLogger(logger), logger, 90*24*time.Hour)

	return &authFixture{
		service:  service,
		users:    users,
		attempts: attempts,
		sessions: sessions,
		guard:    loginGuard,
		limiter:  limiter,
		activity: activityLog,
	}
}

var testPasswordHash = mustHash("Correct-horse9")

func seedUser(f *authFixture, email string) *models.User {
	return f.users.add(&models.User{
		Email:        email,
		PasswordHash: testPasswordHash,
		FirstName:    "Jamie",
		Role:         models.RoleBuyer,
	})
}

func loginInput(email, pass string) LoginInput {
	return LoginInput{Email: email, Password: pass, IPAddress: "198.51.100.7", UserAgent: "test-agent"}
}

func TestLogin_Success(t *testing.T) {
	f := newAuthFixture(t)
	user := seedUser(f, "buyer@example.com")

	resp, err := f.service.Login(context.Background(), loginInput("Buyer@Example.com ", "Correct-horse9"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, user.ID, resp.User.ID)

	// Session is live
	sess, err := f.sessions.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, sess.UserID)

	// Success recorded in audit trail, with no failure reason attached
	require.Len(t, f.attempts.recorded, 1)
	assert.True(t, f.attempts.recorded[0].Success)
	assert.Empty(t, f.attempts.recorded[0].FailureReason)
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(f, "buyer@example.com")

	_, err := f.service.Login(context.Background(), loginInput("buyer@example.com", "wrong"))
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	require.Len(t, f.attempts.recorded, 1)
	assert.False(t, f.attempts.recorded[0].Success)
	assert.Equal(t, "invalid_credentials", f.attempts.recorded[0].FailureReason)
}

func TestLogin_UnknownEmailSameError(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.service.Login(context.Background(), loginInput("nobody@example.com", "whatever"))
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestLogin_LockoutAfterFiveFailures(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(f, "buyer@example.com")

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = f.service.Login(context.Background(), loginInput("buyer@example.com", "wrong"))
	}

	var lockout *LockoutError
	require.ErrorAs(t, lastErr, &lockout)
	assert.Greater(t, lockout.RetryAfter, time.Duration(0))

	// Correct password is rejected while locked
	_, err := f.service.Login(context.Background(), loginInput("buyer@example.com", "Correct-horse9"))
	assert.ErrorIs(t, err, models.ErrAccountLocked)
}

func TestLogin_SuccessClearsFailureHistory(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(f, "buyer@example.com")

	for i := 0; i < 4; i++ {
		_, _ = f.service.Login(context.Background(), loginInput("buyer@example.com", "wrong"))
	}

	_, err := f.service.Login(context.Background(), loginInput("buyer@example.com", "Correct-horse9"))
	require.NoError(t, err)

	// History cleared: four more failures do not lock
	for i := 0; i < 4; i++ {
		_, err = f.service.Login(context.Background(), loginInput("buyer@example.com", "wrong"))
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	}
	assert.False(t, f.guard.IsLocked("buyer@example.com"))
}

func TestLogin_RateLimited(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(f, "buyer@example.com")

	// Exhaust the window directly to keep the test fast
	for i := 0; i < 100; i++ {
		f.limiter.Check("login:buyer@example.com")
	}

	_, err := f.service.Login(context.Background(), loginInput("buyer@example.com", "Correct-horse9"))
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.ErrorIs(t, err, models.ErrRateLimitExceeded)
	assert.False(t, rateErr.ResetAt.IsZero())
}

func TestLogin_TOTPEnrolledRequiresCode(t *testing.T) {
	f := newAuthFixture(t)
	user := seedUser(f, "seller@example.com")
	user.TOTPEnabled = true

	_, err := f.service.Login(context.Background(), loginInput("seller@example.com", "Correct-horse9"))
	assert.ErrorIs(t, err, models.ErrTOTPRequired)
}

// enrollTOTP wires a known secret onto the user the way a completed
// enrollment would and returns the plaintext secret for code generation.
func enrollTOTP(t *testing.T, user *models.User, tm *auth.TOTPManager) string {
	t.Helper()
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	encrypted, nonce, err := tm.EncryptSecret([]byte(secret))
	require.NoError(t, err)
	user.TOTPSecret = encrypted
	user.TOTPNonce = nonce
	user.TOTPEnabled = true
	return secret
}

func TestCompleteTOTPLogin_Success(t *testing.T) {
	f := newAuthFixture(t)
	user := seedUser(f, "seller@example.com")

	tm, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "Tradepost")
	require.NoError(t, err)
	secret := enrollTOTP(t, user, tm)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	resp, err := f.service.CompleteTOTPLogin(context.Background(), tm,
		loginInput("seller@example.com", "Correct-horse9"), code)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotNil(t, user.TOTPLastUsedAt, "accepted code must be stamped as used")
}

func TestCompleteTOTPLogin_SameCodeRejectedOnReuse(t *testing.T) {
	f := newAuthFixture(t)
	user := seedUser(f, "seller@example.com")

	tm, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "Tradepost")
	require.NoError(t, err)
	secret := enrollTOTP(t, user, tm)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	_, err = f.service.CompleteTOTPLogin(context.Background(), tm,
		loginInput("seller@example.com", "Correct-horse9"), code)
	require.NoError(t, err)

	// A captured code must not open a second session inside its window
	_, err = f.service.CompleteTOTPLogin(context.Background(), tm,
		loginInput("seller@example.com", "Correct-horse9"), code)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestRefresh_RotatesPair(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(f, "buyer@example.com")

	resp, err := f.service.Login(context.Background(), loginInput("buyer@example.com", "Correct-horse9"))
	require.NoError(t, err)

	refreshed, err := f.service.Refresh(context.Background(), resp.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.Equal(t, resp.SessionID, refreshed.SessionID)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(f, "buyer@example.com")

	resp, err := f.service.Login(context.Background(), loginInput("buyer@example.com", "Correct-horse9"))
	require.NoError(t, err)

	_, err = f.service.Refresh(context.Background(), resp.AccessToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestRefresh_DeadSessionKillsChain(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(f, "buyer@example.com")

	resp, err := f.service.Login(context.Background(), loginInput("buyer@example.com", "Correct-horse9"))
	require.NoError(t, err)

	require.NoError(t, f.sessions.Clear(context.Background(), resp.SessionID))

	_, err = f.service.Refresh(context.Background(), resp.RefreshToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestLogout_ClearsSession(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(f, "buyer@example.com")

	resp, err := f.service.Login(context.Background(), loginInput("buyer@example.com", "Correct-horse9"))
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(context.Background(), resp.AccessToken, "198.51.100.7", "test-agent"))

	_, err = f.sessions.Get(context.Background(), resp.SessionID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Logout is idempotent
	assert.NoError(t, f.service.Logout(context.Background(), resp.AccessToken, "198.51.100.7", "test-agent"))
}

func TestLogoutAll(t *testing.T) {
	f := newAuthFixture(t)
	user := seedUser(f, "buyer@example.com")

	for i := 0; i < 3; i++ {
		_, err := f.service.Login(context.Background(), loginInput("buyer@example.com", "Correct-horse9"))
		require.NoError(t, err)
	}

	cleared, err := f.service.LogoutAll(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, cleared)

	remaining, err := f.sessions.ForUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRegister(t *testing.T) {
	f := newAuthFixture(t)

	resp, err := f.service.Register(context.Background(),
		"New.Buyer@Example.com", "Str0ng!passphrase", "Sam", "", "",
		loginInput("new.buyer@example.com", ""))
	require.NoError(t, err)
	assert.Equal(t, "new.buyer@example.com", resp.User.Email)
	assert.Equal(t, models.RoleBuyer, resp.User.Role)
	assert.NotEmpty(t, resp.SessionID)

	// Duplicate registration conflicts
	_, err = f.service.Register(context.Background(),
		"new.buyer@example.com", "Str0ng!passphrase", "Sam", "", "",
		loginInput("new.buyer@example.com", ""))
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestRegister_WeakPasswordRejected(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.service.Register(context.Background(),
		"weak@example.com", "password123", "Sam", "", "",
		loginInput("weak@example.com", ""))
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrConflict))

	_, err = f.users.GetByEmail(context.Background(), "weak@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
