package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tradepost/sentinel/internal/models"
)

// DefaultTTL is the absolute session lifetime from creation.
const DefaultTTL = 120 * time.Minute

// Backend is the persistence layer underneath the Store. The in-memory
// backend is authoritative for a single instance; the Redis backend serves
// multi-instance deployments with the same semantics.
type Backend interface {
	Put(ctx context.Context, s *models.Session) error
	// Fetch returns models.ErrNotFound when no record exists.
	Fetch(ctx context.Context, sessionID string) (*models.Session, error)
	Delete(ctx context.Context, sessionID string) error
	ByUser(ctx context.Context, userID string) ([]*models.Session, error)
	// Range visits every stored session until fn returns false.
	Range(ctx context.Context, fn func(*models.Session) bool) error
}

// Store owns the session lifecycle: NONE -> ACTIVE on login, ACTIVE refreshed
// on every read, EXPIRED on timeout or logout, then gone. Expiry is enforced
// lazily on read, never by timer, and is monotonic - an expired session is
// deleted at the moment of observation and can only be replaced by a new login.
type Store struct {
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates a session store over the given backend. A non-positive ttl
// falls back to DefaultTTL.
func NewStore(backend Backend, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		backend: backend,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// Create opens a new session for the user with a random identifier and an
// absolute expiry of now + ttl.
func (s *Store) Create(ctx context.Context, user *models.User) (*models.Session, error) {
	now := s.now()
	sess := &models.Session{
		SessionID:    uuid.New().String(),
		UserID:       user.ID,
		Role:         user.Role,
		Email:        user.Email,
		FirstName:    user.FirstName,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		LastActivity: now,
	}

	if err := s.backend.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	s.logger.Info("session created",
		slog.String("session_id", sess.SessionID),
		slog.String("user_id", sess.UserID))
	return sess, nil
}

// Get returns the session, refreshing LastActivity and re-persisting it.
// An absent record yields models.ErrNotFound. A record past its expiry is
// deleted on the spot and yields models.ErrSessionExpired.
func (s *Store) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := s.backend.Fetch(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sess.Expired(now) {
		if err := s.backend.Delete(ctx, sessionID); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to delete expired session",
				slog.String("session_id", sessionID), slog.Any("error", err))
		}
		s.logger.Info("session expired", slog.String("session_id", sessionID))
		return nil, models.ErrSessionExpired
	}

	sess.LastActivity = now
	if err := s.backend.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return sess, nil
}

// Clear deletes the session record. The bearer token in the httpOnly cookie
// is the handler's concern; the store never touches it.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.backend.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	s.logger.Info("session cleared", slog.String("session_id", sessionID))
	return nil
}

// ClearUser deletes every session belonging to the user.
func (s *Store) ClearUser(ctx context.Context, userID string) (int, error) {
	sessions, err := s.backend.ByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	cleared := 0
	for _, sess := range sessions {
		if err := s.backend.Delete(ctx, sess.SessionID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

// ForUser lists the user's live sessions without refreshing them. Used by
// the privacy export.
func (s *Store) ForUser(ctx context.Context, userID string) ([]*models.Session, error) {
	sessions, err := s.backend.ByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	live := sessions[:0]
	for _, sess := range sessions {
		if !sess.Expired(now) {
			live = append(live, sess)
		}
	}
	return live, nil
}

// SweepExpired deletes sessions past their absolute expiry. The watcher and
// the background cleanup call this; reads would evict them lazily anyway.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	var expired []string
	err := s.backend.Range(ctx, func(sess *models.Session) bool {
		if sess.Expired(now) {
			expired = append(expired, sess.SessionID)
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	for _, id := range expired {
		if err := s.backend.Delete(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
			return 0, err
		}
	}
	return len(expired), nil
}
