package session

import (
	"context"
	"sync"

	"github.com/tradepost/sentinel/internal/models"
)

// MemoryBackend keeps sessions in a mutex-guarded map. It is an explicit
// store constructed once per application instance.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*models.Session)}
}

func (b *MemoryBackend) Put(ctx context.Context, s *models.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *s
	b.sessions[s.SessionID] = &cp
	return nil
}

func (b *MemoryBackend) Fetch(ctx context.Context, sessionID string) (*models.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (b *MemoryBackend) Delete(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[sessionID]; !ok {
		return models.ErrNotFound
	}
	delete(b.sessions, sessionID)
	return nil
}

func (b *MemoryBackend) ByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*models.Session
	for _, s := range b.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (b *MemoryBackend) Range(ctx context.Context, fn func(*models.Session) bool) error {
	b.mu.RLock()
	snapshot := make([]*models.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		cp := *s
		snapshot = append(snapshot, &cp)
	}
	b.mu.RUnlock()

	for _, s := range snapshot {
		if !fn(s) {
			return nil
		}
	}
	return nil
}
