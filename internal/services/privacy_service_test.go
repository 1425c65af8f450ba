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
	"github.com/tradepost/sentinel/internal/session"
	pkglogger "github.com/tradepost/sentinel/pkg/logger"
)

type privacyFixture struct {
	service    *PrivacyService
	users      *mockUserRepo
	consents   *mockConsentRepo
	activityDB *mockActivityRepo
	attempts   *mockAttemptRepo
	sessions   *session.Store
	guard      *guard.Guard
	buffer     *activity.Logger
}

func newPrivacyFixture(t *testing.T) *privacyFixture {
	t.Helper()
	logger := discardLogger()

	users := newMockUserRepo()
	consents := newMockConsentRepo()
	activityDB := &mockActivityRepo{}
	attempts := &mockAttemptRepo{}
	sessions := session.NewStore(session.NewMemoryBackend(), 2*time.Hour, logger)
	loginGuard := guard.New(guard.LoginConfig(), logger)
	buffer := activity.NewLogger(logger, activityDB)
	t.Cleanup(buffer.Close)

	service := NewPrivacyService(users, consents, activityDB, attempts, sessions,
		buffer, loginGuard, pkglogger.NewSecurityLogger(logger), logger)

	return &privacyFixture{
		service:    service,
		users:      users,
		consents:   consents,
		activityDB: activityDB,
		attempts:   attempts,
		sessions:   sessions,
		guard:      loginGuard,
		buffer:     buffer,
	}
}

func TestConsent_DefaultsWhenUnset(t *testing.T) {
	f := newPrivacyFixture(t)

	consent, err := f.service.GetConsent(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, consent.CookieConsent)
	assert.False(t, consent.PrivacyMode)
	assert.False(t, consent.DoNotTrack)
}

func TestConsent_UpdateRoundTrip(t *testing.T) {
	f := newPrivacyFixture(t)
	ctx := context.Background()

	err := f.service.UpdateConsent(ctx, &models.Consent{
		UserID:        "user-1",
		CookieConsent: true,
		DoNotTrack:    true,
	}, "198.51.100.7", "test-agent")
	require.NoError(t, err)

	consent, err := f.service.GetConsent(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, consent.CookieConsent)
	assert.True(t, consent.DoNotTrack)
	assert.False(t, consent.PrivacyMode)
}

func TestExport_BundlesEverything(t *testing.T) {
	f := newPrivacyFixture(t)
	ctx := context.Background()

	user := f.users.add(&models.User{
		Email:        "buyer@example.com",
		PasswordHash: "hash",
		FirstName:    "Jamie",
		Role:         models.RoleBuyer,
		TOTPSecret:   []byte("secret"),
	})

	sess, err := f.sessions.Create(ctx, user)
	require.NoError(t, err)

	require.NoError(t, f.activityDB.Persist(ctx, &models.ActivityEntry{UserID: user.ID, Action: models.ActivityLogin}))
	require.NoError(t, f.consents.Upsert(ctx, &models.Consent{UserID: user.ID, CookieConsent: true}))

	export, err := f.service.Export(ctx, user.ID, "198.51.100.7", "test-agent")
	require.NoError(t, err)

	assert.Equal(t, user.ID, export.User.ID)
	assert.Empty(t, export.User.PasswordHash, "export must not leak credentials")
	assert.Nil(t, export.User.TOTPSecret)
	require.NotNil(t, export.Consent)
	assert.True(t, export.Consent.CookieConsent)
	require.Len(t, export.Sessions, 1)
	assert.Equal(t, sess.SessionID, export.Sessions[0].SessionID)
	require.Len(t, export.Activity, 1)
	assert.False(t, export.ExportedAt.IsZero())
}

func TestExport_UnknownUser(t *testing.T) {
	f := newPrivacyFixture(t)

	_, err := f.service.Export(context.Background(), "missing", "198.51.100.7", "test-agent")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestErase_RemovesAllTraces(t *testing.T) {
	f := newPrivacyFixture(t)
	ctx := context.Background()

	user := f.users.add(&models.User{
		Email:        "buyer@example.com",
		PasswordHash: "hash",
		Role:         models.RoleBuyer,
	})

	_, err := f.sessions.Create(ctx, user)
	require.NoError(t, err)
	f.guard.RecordAttempt(user.Email)
	f.buffer.Log(user.ID, models.ActivityLogin, "", "198.51.100.7", "", "")
	require.NoError(t, f.activityDB.Persist(ctx, &models.ActivityEntry{UserID: user.ID, Action: models.ActivityLogin}))
	require.NoError(t, f.consents.Upsert(ctx, &models.Consent{UserID: user.ID, CookieConsent: true}))

	require.NoError(t, f.service.Erase(ctx, user.ID, "198.51.100.7"))

	sessions, err := f.sessions.ForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	assert.Empty(t, f.buffer.ForUser(user.ID))
	assert.Contains(t, f.activityDB.deleted, user.ID)
	assert.Contains(t, f.attempts.deleted, user.Email)
	assert.Contains(t, f.users.erased, user.ID)

	_, err = f.consents.Get(ctx, user.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestErase_UnknownUser(t *testing.T) {
	f := newPrivacyFixture(t)

	err := f.service.Erase(context.Background(), "missing", "198.51.100.7")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
