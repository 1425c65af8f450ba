package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tradepost/sentinel/internal/activity"
	"github.com/tradepost/sentinel/internal/auth"
	"github.com/tradepost/sentinel/internal/guard"
	"github.com/tradepost/sentinel/internal/models"
	"github.com/tradepost/sentinel/internal/ratelimit"
	"github.com/tradepost/sentinel/internal/session"
	pkglogger "github.com/tradepost/sentinel/pkg/logger"
	"github.com/tradepost/sentinel/pkg/password"
)

// UserRepository is the persistence surface the auth service needs.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	SetTOTPLastUsed(ctx context.Context, id string, usedAt time.Time) error
}

// AttemptRecorder persists the audit row for each authentication attempt.
type AttemptRecorder interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
}

// RateLimitError reports a denied request along with when the window opens up.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string { return models.ErrRateLimitExceeded.Error() }
func (e *RateLimitError) Unwrap() error { return models.ErrRateLimitExceeded }

// RetryIn returns the remaining wait until the window opens.
func (e *RateLimitError) RetryIn() time.Duration { return time.Until(e.ResetAt) }

// LockoutError reports a locked identifier and how long the lock remains.
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string { return models.ErrAccountLocked.Error() }
func (e *LockoutError) Unwrap() error { return models.ErrAccountLocked }

// AuthService orchestrates login: rate limiting, lockout, credential checks,
// session creation, and the audit trail. The in-memory limiter and guard are
// authoritative; Postgres only keeps the audit rows.
type AuthService struct {
	users       UserRepository
	attempts    AttemptRecorder
	sessions    *session.Store
	limiter     *ratelimit.Limiter
	loginGuard  *guard.Guard
	activityLog *activity.Logger
	tm          *auth.TokenManager
	timing      *auth.TimingDelay
	secLogger   *pkglogger.SecurityLogger
	logger      *slog.Logger
	retention   time.Duration
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	attempts AttemptRecorder,
	sessions *session.Store,
	limiter *ratelimit.Limiter,
	loginGuard *guard.Guard,
	activityLog *activity.Logger,
	tm *auth.TokenManager,
	timing *auth.TimingDelay,
	secLogger *pkglogger.SecurityLogger,
	logger *slog.Logger,
	retention time.Duration,
) *AuthService {
	return &AuthService{
		users:       users,
		attempts:    attempts,
		sessions:    sessions,
		limiter:     limiter,
		loginGuard:  loginGuard,
		activityLog: activityLog,
		tm:          tm,
		timing:      timing,
		secLogger:   secLogger,
		logger:      logger,
		retention:   retention,
	}
}

// LoginInput carries everything Login needs from the request.
type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	SessionID    string        `json:"session_id"`
	ExpiresAt    string        `json:"expires_at"`
	User         *UserResponse `json:"user"`
}

// Login authenticates a user. Order matters: rate limit first, then lockout,
// then credentials. A denied rate-limit check does not count as a failed
// attempt, and a success clears the identifier's failure history.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	start := time.Now()

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		s.logger.Warn("login attempt with empty email")
		return nil, models.ErrUnauthorized
	}

	if result := s.limiter.Check("login:" + email); !result.Allowed {
		s.secLogger.LogRateLimit(email, input.IPAddress, result.ResetAt)
		return nil, &RateLimitError{ResetAt: result.ResetAt}
	}

	if s.loginGuard.IsLocked(email) {
		retryAfter := s.loginGuard.RemainingLockout(email)
		s.secLogger.LogLockout(email, input.IPAddress, retryAfter)
		s.recordAttempt(ctx, email, input, false, "account_locked")
		return nil, &LockoutError{RetryAfter: retryAfter}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, s.failLogin(ctx, email, "", input, start, "invalid_credentials")
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := password.Compare(user.PasswordHash, input.Password); err != nil {
		return nil, s.failLogin(ctx, email, user.ID, input, start, "invalid_credentials")
	}

	// TOTP-enrolled accounts must finish login through the MFA verify step
	if user.TOTPEnabled {
		s.recordAttempt(ctx, email, input, false, "totp_required")
		return nil, models.ErrTOTPRequired
	}

	return s.establishSession(ctx, user, email, input)
}

// failLogin records the failure everywhere it needs to land and normalizes
// the externally visible outcome to unauthorized (or locked).
func (s *AuthService) failLogin(ctx context.Context, email, userID string, input LoginInput, start time.Time, reason string) error {
	outcome := s.loginGuard.RecordAttempt(email)
	s.recordAttempt(ctx, email, input, false, reason)
	s.activityLog.Log(userID, models.ActivityLoginFailed, reason, input.IPAddress, input.UserAgent, "")
	s.secLogger.LogAuthAttempt(pkglogger.SecurityEvent{
		EventType:     "login_failed",
		Identifier:    email,
		IPAddress:     input.IPAddress,
		FailureReason: reason,
		Success:       false,
	})

	s.timing.WaitFrom(start, false)

	if outcome.Locked {
		s.secLogger.LogLockout(email, input.IPAddress, outcome.RetryAfter)
		return &LockoutError{RetryAfter: outcome.RetryAfter}
	}
	return models.ErrUnauthorized
}

// establishSession finishes a successful authentication: clears the failure
// history, creates the server-side session, and mints the token pair.
func (s *AuthService) establishSession(ctx context.Context, user *models.User, email string, input LoginInput) (*AuthResponse, error) {
	s.loginGuard.Clear(email)

	sess, err := s.sessions.Create(ctx, user)
	if err != nil {
		s.logger.Error("failed to create session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email, sess.SessionID)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email, sess.SessionID)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.recordAttempt(ctx, email, input, true, "")
	s.activityLog.Log(user.ID, models.ActivityLogin, "", input.IPAddress, input.UserAgent, sess.SessionID)
	s.secLogger.LogAuthAttempt(pkglogger.SecurityEvent{
		EventType:  "login_success",
		Identifier: email,
		UserID:     user.ID,
		IPAddress:  input.IPAddress,
		Success:    true,
	})

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sess.SessionID,
		ExpiresAt:    sess.ExpiresAt.Format(time.RFC3339),
		User:         userModelToResponse(user),
	}, nil
}

// CompleteTOTPLogin verifies a TOTP code for an enrolled account and, when it
// checks out, establishes the session the same way a password login would.
func (s *AuthService) CompleteTOTPLogin(ctx context.Context, totpManager *auth.TOTPManager, input LoginInput, code string) (*AuthResponse, error) {
	start := time.Now()

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, models.ErrUnauthorized
	}

	if s.loginGuard.IsLocked(email) {
		return nil, &LockoutError{RetryAfter: s.loginGuard.RemainingLockout(email)}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, s.failLogin(ctx, email, "", input, start, "invalid_credentials")
		}
		return nil, models.ErrInternalServer
	}

	if err := password.Compare(user.PasswordHash, input.Password); err != nil {
		return nil, s.failLogin(ctx, email, user.ID, input, start, "invalid_credentials")
	}

	if !user.TOTPEnabled || user.TOTPSecret == nil {
		return nil, models.ErrBadRequest
	}

	secret, err := totpManager.DecryptSecret(user.TOTPSecret, user.TOTPNonce)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	valid, err := totpManager.Validate(secret, code, user.TOTPLastUsedAt)
	if err != nil || !valid {
		return nil, s.failLogin(ctx, email, user.ID, input, start, "invalid_totp_code")
	}

	// Stamp the code as spent so it cannot open a second session within
	// its validity window
	if err := s.users.SetTOTPLastUsed(ctx, user.ID, time.Now()); err != nil {
		s.logger.Error("failed to record TOTP code use", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	return s.establishSession(ctx, user, email, input)
}

// Refresh rotates the token pair. The refresh token's session must still be
// alive; a cleared or expired session kills the refresh chain.
func (s *AuthService) Refresh(ctx context.Context, refreshTokenString string) (*AuthResponse, error) {
	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshTokenString)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	if claims.Type != "refresh" {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionExpired) {
			return nil, models.ErrSessionExpired
		}
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		return nil, models.ErrInternalServer
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", sess.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email, sess.SessionID)
	if err != nil {
		return nil, models.ErrInternalServer
	}
	newRefreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email, sess.SessionID)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		SessionID:    sess.SessionID,
		ExpiresAt:    sess.ExpiresAt.Format(time.RFC3339),
		User:         userModelToResponse(user),
	}, nil
}

// Register creates a new account. Password strength gates registration: the
// submitted password must clear the "medium" tier.
func (s *AuthService) Register(ctx context.Context, email, plaintext, firstName, phone, role string, input LoginInput) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	firstName = strings.TrimSpace(firstName)

	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if firstName == "" {
		return nil, fmt.Errorf("first name is required")
	}

	switch role {
	case models.RoleBuyer, models.RoleSeller:
	case "":
		role = models.RoleBuyer
	default:
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	assessment := password.Assess(plaintext)
	if assessment.Strength == password.StrengthVeryWeak || assessment.Strength == password.StrengthWeak {
		return nil, fmt.Errorf("password too weak: %s", assessment.Message)
	}

	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("registration failed: user already exists")
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check if user exists", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashed, err := password.Hash(plaintext)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hashed,
		FirstName:    firstName,
		Phone:        strings.TrimSpace(phone),
		Role:         role,
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", created.ID))
	s.activityLog.Log(created.ID, models.ActivityRegister, "", input.IPAddress, input.UserAgent, "")

	return s.establishSession(ctx, created, email, input)
}

// Logout clears the session bound to the presented access token. Clearing an
// already-cleared session is a no-op.
func (s *AuthService) Logout(ctx context.Context, accessToken, ipAddress, userAgent string) error {
	claims, err := s.tm.ValidateToken(accessToken)
	if err != nil {
		return models.ErrUnauthorized
	}

	if err := s.sessions.Clear(ctx, claims.SessionID); err != nil {
		s.logger.Error("failed to clear session", slog.String("session_id", claims.SessionID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.activityLog.Log(claims.UserID, models.ActivityLogout, "", ipAddress, userAgent, claims.SessionID)
	s.secLogger.LogSessionEvent("session_cleared", claims.SessionID, claims.UserID)
	return nil
}

// LogoutAll clears every session for the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	cleared, err := s.sessions.ClearUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to clear user sessions", slog.String("user_id", userID), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	s.logger.Info("user logged out from all devices",
		slog.String("user_id", userID),
		slog.Int("sessions_cleared", cleared))
	return cleared, nil
}

func (s *AuthService) recordAttempt(ctx context.Context, email string, input LoginInput, success bool, reason string) {
	attempt := &models.LoginAttempt{
		Identifier:    email,
		IPAddress:     input.IPAddress,
		UserAgent:     input.UserAgent,
		Success:       success,
		FailureReason: reason,
		ExpiresAt:     time.Now().Add(s.retention),
	}

	// Audit persistence must not block or fail the login path
	if err := s.attempts.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to persist login attempt", slog.Any("error", err))
	}
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
}
