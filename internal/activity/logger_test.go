package activity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradepost/sentinel/internal/models"
)

type mockSink struct {
	mu      sync.Mutex
	entries []*models.ActivityEntry
}

func (m *mockSink) Persist(ctx context.Context, entry *models.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoggerAppends(t *testing.T) {
	l := NewLogger(discardLogger(), nil)
	defer l.Close()

	entry := l.Log("user-1", models.ActivityLogin, "password login", "10.0.0.1", "curl/8", "sess-1")

	require.NotNil(t, entry)
	assert.Equal(t, "user-1", entry.UserID)
	assert.Equal(t, models.ActivityLogin, entry.Action)
	assert.False(t, entry.Timestamp.IsZero())
	assert.Equal(t, 1, l.Len())
}

func TestLoggerCapNeverExceeded(t *testing.T) {
	l := NewLogger(discardLogger(), nil)
	defer l.Close()
	l.cap = 10

	for i := 0; i < 35; i++ {
		l.Log("user-1", "action", fmt.Sprintf("event-%d", i), "", "", "")
		assert.LessOrEqual(t, l.Len(), 10)
	}
	assert.Equal(t, 10, l.Len())
}

func TestLoggerEvictsOldestFirst(t *testing.T) {
	l := NewLogger(discardLogger(), nil)
	defer l.Close()
	l.cap = 3

	for i := 0; i < 5; i++ {
		l.Log("user-1", "action", fmt.Sprintf("event-%d", i), "", "", "")
	}

	recent := l.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "event-4", recent[0].Details)
	assert.Equal(t, "event-3", recent[1].Details)
	assert.Equal(t, "event-2", recent[2].Details)
}

func TestLoggerRecentLimit(t *testing.T) {
	l := NewLogger(discardLogger(), nil)
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.Log("user-1", "action", fmt.Sprintf("event-%d", i), "", "", "")
	}

	recent := l.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "event-4", recent[0].Details)
	assert.Equal(t, "event-3", recent[1].Details)
}

func TestLoggerForUser(t *testing.T) {
	l := NewLogger(discardLogger(), nil)
	defer l.Close()

	l.Log("user-1", "a", "first", "", "", "")
	l.Log("user-2", "b", "other", "", "", "")
	l.Log("user-1", "c", "second", "", "", "")

	mine := l.ForUser("user-1")
	require.Len(t, mine, 2)
	assert.Equal(t, "second", mine[0].Details)
	assert.Equal(t, "first", mine[1].Details)
}

func TestLoggerDropUser(t *testing.T) {
	l := NewLogger(discardLogger(), nil)
	defer l.Close()

	l.Log("user-1", "a", "", "", "", "")
	l.Log("user-2", "b", "", "", "", "")
	l.Log("user-1", "c", "", "", "", "")

	dropped := l.DropUser("user-1")
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 1, l.Len())
	assert.Empty(t, l.ForUser("user-1"))
}

func TestLoggerPersistsToSink(t *testing.T) {
	sink := &mockSink{}
	l := NewLogger(discardLogger(), sink)

	for i := 0; i < 5; i++ {
		l.Log("user-1", "action", "", "", "", "")
	}
	l.Close() // drains the queue

	assert.Equal(t, 5, sink.count())
}
