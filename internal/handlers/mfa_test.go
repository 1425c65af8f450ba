package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradepost/sentinel/internal/auth"
	"github.com/tradepost/sentinel/internal/models"
)

type mockMFAUsers struct {
	user *models.User
}

func (m *mockMFAUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.user == nil || m.user.ID != id {
		return nil, models.ErrNotFound
	}
	return m.user, nil
}

func (m *mockMFAUsers) SetTOTPSecret(ctx context.Context, id string, secret, nonce []byte) error {
	m.user.TOTPSecret = secret
	m.user.TOTPNonce = nonce
	m.user.TOTPEnabled = false
	return nil
}

func (m *mockMFAUsers) EnableTOTP(ctx context.Context, id string) error {
	m.user.TOTPEnabled = true
	return nil
}

func (m *mockMFAUsers) SetTOTPLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	m.user.TOTPLastUsedAt = &usedAt
	return nil
}

func mfaRequest(t *testing.T, handler http.HandlerFunc, sess *models.Session, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/mfa", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	ctx := context.WithValue(req.Context(), auth.SessionContextKey, sess)
	rec := httptest.NewRecorder()
	handler(rec, req.WithContext(ctx))
	return rec
}

const (
	mfaTestKey    = "fedcba9876543210fedcba9876543210"
	mfaTestSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
)

func newMFAFixture(t *testing.T) (*MFAHandler, *mockMFAUsers) {
	t.Helper()
	tm, err := auth.NewTOTPManager([]byte(mfaTestKey), "Tradepost")
	require.NoError(t, err)

	encrypted, nonce, err := tm.EncryptSecret([]byte(mfaTestSecret))
	require.NoError(t, err)

	users := &mockMFAUsers{user: &models.User{
		ID:         "user-1",
		Email:      "seller@example.com",
		TOTPSecret: encrypted,
		TOTPNonce:  nonce,
	}}
	return NewMFAHandler(users, tm), users
}

func TestMFAActivate_EnablesAndStampsCodeUse(t *testing.T) {
	h, users := newMFAFixture(t)

	code, err := totp.GenerateCode(mfaTestSecret, time.Now())
	require.NoError(t, err)

	rec := mfaRequest(t, h.Activate,
		&models.Session{UserID: "user-1", Email: "seller@example.com"},
		ActivateRequest{Code: code})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, users.user.TOTPEnabled)
	assert.NotNil(t, users.user.TOTPLastUsedAt, "activation code must be stamped as used")
}

func TestMFAActivate_WrongCode(t *testing.T) {
	h, users := newMFAFixture(t)

	code, err := totp.GenerateCode(mfaTestSecret, time.Now())
	require.NoError(t, err)
	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}

	rec := mfaRequest(t, h.Activate,
		&models.Session{UserID: "user-1", Email: "seller@example.com"},
		ActivateRequest{Code: wrong})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, users.user.TOTPEnabled)
	assert.Nil(t, users.user.TOTPLastUsedAt)
}

func TestMFASetup_UnavailableWithoutManager(t *testing.T) {
	h := NewMFAHandler(&mockMFAUsers{}, nil)

	rec := mfaRequest(t, h.Setup, &models.Session{UserID: "user-1"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "totp_unavailable")
}
