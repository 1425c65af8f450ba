package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradepost/sentinel/internal/activity"
	"github.com/tradepost/sentinel/internal/guard"
	"github.com/tradepost/sentinel/internal/models"
	"github.com/tradepost/sentinel/internal/ratelimit"
	pkglogger "github.com/tradepost/sentinel/pkg/logger"
)

type otpFixture struct {
	service *OTPService
	sender  *mockCodeSender
	guard   *guard.Guard
	limiter *ratelimit.Limiter
}

func newOTPFixture(t *testing.T) *otpFixture {
	t.Helper()
	logger := discardLogger()

	sender := &mockCodeSender{}
	otpGuard := guard.New(guard.OTPConfig(), logger)
	limiter := ratelimit.New(ratelimit.OTPConfig())
	activityLog := activity.NewLogger(logger, nil)
	t.Cleanup(activityLog.Close)

	service := NewOTPService(limiter, otpGuard, sender, activityLog,
		pkglogger.NewSecurityLogger(logger), logger, 5*time.Minute)

	return &otpFixture{service: service, sender: sender, guard: otpGuard, limiter: limiter}
}

func TestOTP_RequestAndVerify(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Request(ctx, "Buyer@Example.com", "198.51.100.7", "test-agent"))
	code := f.sender.lastCode()
	require.Len(t, code, 6)

	require.NoError(t, f.service.Verify(ctx, "buyer@example.com", code, "198.51.100.7", "test-agent"))

	// Codes are single-use
	err := f.service.Verify(ctx, "buyer@example.com", code, "198.51.100.7", "test-agent")
	assert.ErrorIs(t, err, models.ErrCodeInvalid)
}

func TestOTP_WrongCode(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Request(ctx, "buyer@example.com", "198.51.100.7", "test-agent"))

	wrong := "000000"
	if f.sender.lastCode() == wrong {
		wrong = "000001"
	}

	err := f.service.Verify(ctx, "buyer@example.com", wrong, "198.51.100.7", "test-agent")
	assert.ErrorIs(t, err, models.ErrCodeInvalid)

	// The real code still works after a miss
	assert.NoError(t, f.service.Verify(ctx, "buyer@example.com", f.sender.lastCode(), "198.51.100.7", "test-agent"))
}

func TestOTP_NewRequestReplacesCode(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Request(ctx, "buyer@example.com", "198.51.100.7", "test-agent"))
	first := f.sender.lastCode()

	require.NoError(t, f.service.Request(ctx, "buyer@example.com", "198.51.100.7", "test-agent"))
	second := f.sender.lastCode()

	if first != second {
		err := f.service.Verify(ctx, "buyer@example.com", first, "198.51.100.7", "test-agent")
		assert.ErrorIs(t, err, models.ErrCodeInvalid)
	}
	assert.NoError(t, f.service.Verify(ctx, "buyer@example.com", second, "198.51.100.7", "test-agent"))
}

func TestOTP_RequestRateLimited(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		f.limiter.Check("otp:buyer@example.com")
	}

	err := f.service.Request(ctx, "buyer@example.com", "198.51.100.7", "test-agent")
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
}

func TestOTP_LockoutAfterTenFailures(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Request(ctx, "buyer@example.com", "198.51.100.7", "test-agent"))

	wrong := "999999"
	if f.sender.lastCode() == wrong {
		wrong = "999998"
	}

	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = f.service.Verify(ctx, "buyer@example.com", wrong, "198.51.100.7", "test-agent")
	}

	var lockout *LockoutError
	require.ErrorAs(t, lastErr, &lockout)

	// Even the right code is rejected while locked
	err := f.service.Verify(ctx, "buyer@example.com", f.sender.lastCode(), "198.51.100.7", "test-agent")
	assert.ErrorIs(t, err, models.ErrAccountLocked)
}

func TestOTP_SendFailureDropsCode(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	f.sender.fail = true
	err := f.service.Request(ctx, "buyer@example.com", "198.51.100.7", "test-agent")
	assert.ErrorIs(t, err, models.ErrInternalServer)

	// No dangling code to verify against
	err = f.service.Verify(ctx, "buyer@example.com", "123456", "198.51.100.7", "test-agent")
	assert.ErrorIs(t, err, models.ErrCodeInvalid)
}

func TestOTP_ExpiredCode(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Request(ctx, "buyer@example.com", "198.51.100.7", "test-agent"))

	// Age the stored code past its validity
	f.service.codes.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	err := f.service.Verify(ctx, "buyer@example.com", f.sender.lastCode(), "198.51.100.7", "test-agent")
	assert.ErrorIs(t, err, models.ErrCodeExpired)
}

func TestOTP_SweepExpired(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Request(ctx, "a@example.com", "198.51.100.7", "test-agent"))
	require.NoError(t, f.service.Request(ctx, "b@example.com", "198.51.100.7", "test-agent"))

	f.service.codes.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	assert.Equal(t, 2, f.service.SweepExpired())
	assert.Equal(t, 0, f.service.SweepExpired())
}
