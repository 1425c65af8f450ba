package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tradepost/sentinel/internal/models"
	"github.com/tradepost/sentinel/pkg/password"
)

// Shared in-memory fakes for service tests.

type mockUserRepo struct {
	mu      sync.Mutex
	byEmail map[string]*models.User
	byID    map[string]*models.User
	erased  []string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		byEmail: make(map[string]*models.User),
		byID:    make(map[string]*models.User),
	}
}

func (m *mockUserRepo) add(user *models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now()
	m.byEmail[user.Email] = user
	m.byID[user.ID] = user
	return user
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.byEmail[email]; ok {
		return user, nil
	}
	return nil, models.ErrNotFound
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.byID[id]; ok {
		return user, nil
	}
	return nil, models.ErrNotFound
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	if _, exists := m.byEmail[user.Email]; exists {
		m.mu.Unlock()
		return nil, models.ErrConflict
	}
	m.mu.Unlock()
	return m.add(user), nil
}

func (m *mockUserRepo) SetTOTPLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	user.TOTPLastUsedAt = &usedAt
	return nil
}

func (m *mockUserRepo) Erase(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	delete(m.byEmail, user.Email)
	m.erased = append(m.erased, id)
	return nil
}

type mockAttemptRepo struct {
	mu       sync.Mutex
	recorded []*models.LoginAttempt
	deleted  []string
}

func (m *mockAttemptRepo) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, attempt)
	return nil
}

func (m *mockAttemptRepo) DeleteForIdentifier(ctx context.Context, identifier string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, identifier)
	return 1, nil
}

type mockConsentRepo struct {
	mu       sync.Mutex
	consents map[string]*models.Consent
}

func newMockConsentRepo() *mockConsentRepo {
	return &mockConsentRepo{consents: make(map[string]*models.Consent)}
}

func (m *mockConsentRepo) Get(ctx context.Context, userID string) (*models.Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.consents[userID]; ok {
		return c, nil
	}
	return nil, models.ErrNotFound
}

func (m *mockConsentRepo) Upsert(ctx context.Context, consent *models.Consent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	consent.UpdatedAt = time.Now()
	m.consents[consent.UserID] = consent
	return nil
}

func (m *mockConsentRepo) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.consents, userID)
	return nil
}

type mockActivityRepo struct {
	mu      sync.Mutex
	entries []*models.ActivityEntry
	deleted []string
}

func (m *mockActivityRepo) Persist(ctx context.Context, entry *models.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockActivityRepo) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.ActivityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ActivityEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockActivityRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, userID)
	kept := m.entries[:0]
	var n int64
	for _, e := range m.entries {
		if e.UserID == userID {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

type mockCodeSender struct {
	mu    sync.Mutex
	sent  []string // codes in send order
	to    []string
	fail  bool
	delay time.Duration
}

func (m *mockCodeSender) SendOTPCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return context.DeadlineExceeded
	}
	m.sent = append(m.sent, code)
	m.to = append(m.to, email)
	return nil
}

func (m *mockCodeSender) lastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustHash(plaintext string) string {
	hashed, err := password.Hash(plaintext)
	if err != nil {
		panic(err)
	}
	return hashed
}
