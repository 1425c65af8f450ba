package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	key := []byte("0123456789abcdef0123456789abcdef")
	tm, err := NewTOTPManager(key, "Tradepost")
	require.NoError(t, err)
	return tm
}

func TestNewTOTPManager_KeyLength(t *testing.T) {
	_, err := NewTOTPManager([]byte("short"), "Tradepost")
	assert.Error(t, err)
}

func TestEnroll(t *testing.T) {
	tm := testTOTPManager(t)

	encrypted, nonce, secret, qrDataURL, err := tm.Enroll("seller@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, encrypted)
	assert.NotEmpty(t, nonce)
	assert.NotEmpty(t, secret)
	assert.True(t, strings.HasPrefix(qrDataURL, "data:image/png;base64,"))

	// Round-trip the encrypted secret
	decrypted, err := tm.DecryptSecret(encrypted, nonce)
	require.NoError(t, err)
	assert.Equal(t, secret, string(decrypted))
}

func TestDecryptSecret_TamperedCiphertext(t *testing.T) {
	tm := testTOTPManager(t)

	encrypted, nonce, err := tm.EncryptSecret([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)

	encrypted[0] ^= 0xff
	_, err = tm.DecryptSecret(encrypted, nonce)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tm := testTOTPManager(t)

	encrypted, nonce, secret, _, err := tm.Enroll("seller@example.com")
	require.NoError(t, err)

	decrypted, err := tm.DecryptSecret(encrypted, nonce)
	require.NoError(t, err)
	require.Equal(t, secret, string(decrypted))

	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	valid, err := tm.Validate(decrypted, code, nil)
	require.NoError(t, err)
	assert.True(t, valid)

	// Same code replayed inside the window is rejected
	lastUsed := time.Now().Add(-10 * time.Second)
	valid, err = tm.Validate(decrypted, code, &lastUsed)
	assert.Error(t, err)
	assert.False(t, valid)

	// Wrong code fails without error
	valid, err = tm.Validate(decrypted, "000000", nil)
	require.NoError(t, err)
	assert.False(t, valid)
}
