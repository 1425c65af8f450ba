package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradepost/sentinel/internal/models"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *time.Time) {
	t.Helper()
	store := NewStore(NewMemoryBackend(), ttl, slog.New(slog.NewTextHandler(io.Discard, nil)))
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }
	return store, &current
}

func testUser() *models.User {
	return &models.User{
		ID:        "user-1",
		Email:     "buyer@test.com",
		FirstName: "Dana",
		Role:      models.RoleBuyer,
	}
}

func TestStoreCreate(t *testing.T) {
	store, clock := newTestStore(t, 0)
	ctx := context.Background()

	sess, err := store.Create(ctx, testUser())
	require.NoError(t, err)

	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, models.RoleBuyer, sess.Role)
	assert.Equal(t, *clock, sess.CreatedAt)
	assert.Equal(t, clock.Add(DefaultTTL), sess.ExpiresAt)
	assert.Equal(t, *clock, sess.LastActivity)
}

func TestStoreGetRefreshesLastActivity(t *testing.T) {
	store, clock := newTestStore(t, time.Hour)
	ctx := context.Background()

	created, err := store.Create(ctx, testUser())
	require.NoError(t, err)

	*clock = clock.Add(10 * time.Minute)
	got, err := store.Get(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, *clock, got.LastActivity)

	// Refresh is persisted, not just returned.
	again, err := store.Get(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, *clock, again.LastActivity)
}

func TestStoreGetAbsent(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)

	_, err := store.Get(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStoreGetExpiredDeletesRecord(t *testing.T) {
	store, clock := newTestStore(t, time.Hour)
	ctx := context.Background()

	created, err := store.Create(ctx, testUser())
	require.NoError(t, err)

	*clock = clock.Add(time.Hour) // now == ExpiresAt counts as expired

	_, err = store.Get(ctx, created.SessionID)
	assert.ErrorIs(t, err, models.ErrSessionExpired)

	// Expiry is monotonic: the record is gone, a later read finds nothing.
	*clock = clock.Add(-30 * time.Minute)
	_, err = store.Get(ctx, created.SessionID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStoreGetJustBeforeExpiry(t *testing.T) {
	store, clock := newTestStore(t, time.Hour)
	ctx := context.Background()

	created, err := store.Create(ctx, testUser())
	require.NoError(t, err)

	*clock = clock.Add(time.Hour - time.Second)
	got, err := store.Get(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, *clock, got.LastActivity)
}

func TestStoreClear(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	created, err := store.Create(ctx, testUser())
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, created.SessionID))
	_, err = store.Get(ctx, created.SessionID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Clearing an already-gone session is not an error.
	assert.NoError(t, store.Clear(ctx, created.SessionID))
}

func TestStoreClearUser(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	first, err := store.Create(ctx, testUser())
	require.NoError(t, err)
	second, err := store.Create(ctx, testUser())
	require.NoError(t, err)

	other := testUser()
	other.ID = "user-2"
	kept, err := store.Create(ctx, other)
	require.NoError(t, err)

	cleared, err := store.ClearUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	_, err = store.Get(ctx, first.SessionID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = store.Get(ctx, second.SessionID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = store.Get(ctx, kept.SessionID)
	assert.NoError(t, err)
}

func TestStoreForUserSkipsExpired(t *testing.T) {
	store, clock := newTestStore(t, time.Hour)
	ctx := context.Background()

	_, err := store.Create(ctx, testUser())
	require.NoError(t, err)

	*clock = clock.Add(50 * time.Minute)
	fresh, err := store.Create(ctx, testUser())
	require.NoError(t, err)

	*clock = clock.Add(30 * time.Minute) // first session now past expiry
	live, err := store.ForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, fresh.SessionID, live[0].SessionID)
}

func TestStoreSweepExpired(t *testing.T) {
	store, clock := newTestStore(t, time.Hour)
	ctx := context.Background()

	_, err := store.Create(ctx, testUser())
	require.NoError(t, err)
	_, err = store.Create(ctx, testUser())
	require.NoError(t, err)

	*clock = clock.Add(30 * time.Minute)
	survivor, err := store.Create(ctx, testUser())
	require.NoError(t, err)

	*clock = clock.Add(45 * time.Minute)
	swept, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	_, err = store.Get(ctx, survivor.SessionID)
	assert.NoError(t, err)
}
