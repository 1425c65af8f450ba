package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

type csrfTokenEntry struct {
	userID string
	expiry time.Time
}

// CSRFTokenManager issues per-user CSRF tokens and validates the ones the
// frontend echoes back in the X-CSRF-Token header.
type CSRFTokenManager struct {
	validTokens map[string]*csrfTokenEntry
	mu          sync.RWMutex
	tokenTTL    time.Duration
	stopCh      chan struct{}
}

// NewCSRFTokenManager creates a new CSRF token manager
func NewCSRFTokenManager() *CSRFTokenManager {
	manager := &CSRFTokenManager{
		validTokens: make(map[string]*csrfTokenEntry),
		tokenTTL:    15 * time.Minute,
		stopCh:      make(chan struct{}),
	}

	go manager.cleanupExpiredTokens()

	return manager
}

// GenerateToken creates a new CSRF token for a specific user
func (m *CSRFTokenManager) GenerateToken(userID string) (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}

	token := hex.EncodeToString(randomBytes)

	m.mu.Lock()
	m.validTokens[token] = &csrfTokenEntry{
		userID: userID,
		expiry: time.Now().Add(m.tokenTTL),
	}
	m.mu.Unlock()

	return token, nil
}

// ValidateToken checks that a token exists, belongs to the user, and has not
// expired. Expired tokens are removed on observation.
func (m *CSRFTokenManager) ValidateToken(token, userID string) bool {
	m.mu.RLock()
	entry, exists := m.validTokens[token]
	m.mu.RUnlock()

	if !exists || entry.userID != userID {
		return false
	}

	if time.Now().After(entry.expiry) {
		m.mu.Lock()
		delete(m.validTokens, token)
		m.mu.Unlock()
		return false
	}

	return true
}

// RevokeToken invalidates a CSRF token
func (m *CSRFTokenManager) RevokeToken(token string) {
	m.mu.Lock()
	delete(m.validTokens, token)
	m.mu.Unlock()
}

// Stop halts the background cleanup goroutine
func (m *CSRFTokenManager) Stop() {
	close(m.stopCh)
}

func (m *CSRFTokenManager) cleanupExpiredTokens() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for token, entry := range m.validTokens {
				if now.After(entry.expiry) {
					delete(m.validTokens, token)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}
