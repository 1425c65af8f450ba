package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tradepost/sentinel/internal/activity"
	"github.com/tradepost/sentinel/internal/guard"
	"github.com/tradepost/sentinel/internal/models"
	"github.com/tradepost/sentinel/internal/ratelimit"
	pkglogger "github.com/tradepost/sentinel/pkg/logger"
)

// CodeSender delivers a one-time code to the user.
type CodeSender interface {
	SendOTPCode(ctx context.Context, email, code string, expiresAt time.Time) error
}

// codeStore holds outstanding codes in memory. One live code per identifier;
// requesting a new code replaces the previous one.
type codeStore struct {
	mu    sync.Mutex
	codes map[string]*models.OTPCode
	now   func() time.Time
}

func newCodeStore() *codeStore {
	return &codeStore{
		codes: make(map[string]*models.OTPCode),
		now:   time.Now,
	}
}

func (cs *codeStore) put(code *models.OTPCode) {
	cs.mu.Lock()
	cs.codes[code.Identifier] = code
	cs.mu.Unlock()
}

// take returns the live code for an identifier, deleting it if expired.
func (cs *codeStore) take(identifier string) (*models.OTPCode, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	code, ok := cs.codes[identifier]
	if !ok {
		return nil, models.ErrCodeInvalid
	}
	if code.Expired(cs.now()) {
		delete(cs.codes, identifier)
		return nil, models.ErrCodeExpired
	}
	return code, nil
}

func (cs *codeStore) delete(identifier string) {
	cs.mu.Lock()
	delete(cs.codes, identifier)
	cs.mu.Unlock()
}

// sweep removes expired codes and returns how many were dropped.
func (cs *codeStore) sweep() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := cs.now()
	removed := 0
	for identifier, code := range cs.codes {
		if code.Expired(now) {
			delete(cs.codes, identifier)
			removed++
		}
	}
	return removed
}

// OTPService issues and verifies email one-time codes. Requests run through
// the lenient OTP rate limiter; verification failures feed the OTP guard
// (10 failures locks the identifier for 5 minutes).
type OTPService struct {
	codes       *codeStore
	limiter     *ratelimit.Limiter
	otpGuard    *guard.Guard
	sender      CodeSender
	activityLog *activity.Logger
	secLogger   *pkglogger.SecurityLogger
	logger      *slog.Logger
	validity    time.Duration
}

// NewOTPService creates a new OTPService
func NewOTPService(
	limiter *ratelimit.Limiter,
	otpGuard *guard.Guard,
	sender CodeSender,
	activityLog *activity.Logger,
	secLogger *pkglogger.SecurityLogger,
	logger *slog.Logger,
	validity time.Duration,
) *OTPService {
	return &OTPService{
		codes:       newCodeStore(),
		limiter:     limiter,
		otpGuard:    otpGuard,
		sender:      sender,
		activityLog: activityLog,
		secLogger:   secLogger,
		logger:      logger,
		validity:    validity,
	}
}

// generateCode returns a 6-digit zero-padded numeric code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Request issues a fresh code for the email and sends it. Only the bcrypt
// hash of the code is retained.
func (s *OTPService) Request(ctx context.Context, email, ipAddress, userAgent string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return models.ErrBadRequest
	}

	if result := s.limiter.Check("otp:" + email); !result.Allowed {
		s.secLogger.LogRateLimit(email, ipAddress, result.ResetAt)
		return &RateLimitError{ResetAt: result.ResetAt}
	}

	code, err := generateCode()
	if err != nil {
		s.logger.Error("failed to generate OTP code", slog.Any("error", err))
		return models.ErrInternalServer
	}

	// Codes are short-lived; default cost would add ~1s per request
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("failed to hash OTP code", slog.Any("error", err))
		return models.ErrInternalServer
	}

	now := time.Now()
	s.codes.put(&models.OTPCode{
		Identifier: email,
		CodeHash:   string(hash),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.validity),
	})

	if err := s.sender.SendOTPCode(ctx, email, code, now.Add(s.validity)); err != nil {
		s.codes.delete(email)
		s.logger.Error("failed to send OTP code", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.activityLog.Log("", models.ActivityOTPRequested, "", ipAddress, userAgent, "")
	s.logger.Info("otp code issued", slog.String("identifier", pkglogger.SanitizedEmail(email)))
	return nil
}

// Verify checks a submitted code. An expired code reports expiry, not a
// failure; a wrong code counts against the OTP guard.
func (s *OTPService) Verify(ctx context.Context, email, code, ipAddress, userAgent string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || code == "" {
		return models.ErrBadRequest
	}

	if s.otpGuard.IsLocked(email) {
		retryAfter := s.otpGuard.RemainingLockout(email)
		s.secLogger.LogLockout(email, ipAddress, retryAfter)
		return &LockoutError{RetryAfter: retryAfter}
	}

	stored, err := s.codes.take(email)
	if err != nil {
		if errors.Is(err, models.ErrCodeExpired) {
			s.activityLog.Log("", models.ActivityOTPFailed, "code_expired", ipAddress, userAgent, "")
			return models.ErrCodeExpired
		}
		return s.failVerify(email, ipAddress, userAgent, "code_not_found")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(stored.CodeHash), []byte(code)); err != nil {
		return s.failVerify(email, ipAddress, userAgent, "code_mismatch")
	}

	s.codes.delete(email)
	s.otpGuard.Clear(email)
	s.activityLog.Log("", models.ActivityOTPVerified, "", ipAddress, userAgent, "")
	s.secLogger.LogAuthAttempt(pkglogger.SecurityEvent{
		EventType:  "otp_verified",
		Identifier: email,
		IPAddress:  ipAddress,
		Success:    true,
	})
	return nil
}

func (s *OTPService) failVerify(email, ipAddress, userAgent, reason string) error {
	outcome := s.otpGuard.RecordAttempt(email)
	s.activityLog.Log("", models.ActivityOTPFailed, reason, ipAddress, userAgent, "")
	s.secLogger.LogAuthAttempt(pkglogger.SecurityEvent{
		EventType:     "otp_failed",
		Identifier:    email,
		IPAddress:     ipAddress,
		FailureReason: reason,
		Success:       false,
	})

	if outcome.Locked {
		s.secLogger.LogLockout(email, ipAddress, outcome.RetryAfter)
		return &LockoutError{RetryAfter: outcome.RetryAfter}
	}
	return models.ErrCodeInvalid
}

// SweepExpired drops expired codes. Called by the background cleanup job.
func (s *OTPService) SweepExpired() int {
	return s.codes.sweep()
}
