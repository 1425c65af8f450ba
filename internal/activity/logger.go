// Package activity maintains the bounded in-memory activity log and ships
// entries to durable storage.
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tradepost/sentinel/internal/models"
)

// MaxEntries caps the in-memory log; the oldest entry is evicted first.
const MaxEntries = 1000

// Sink receives entries for durable storage.
type Sink interface {
	Persist(ctx context.Context, entry *models.ActivityEntry) error
}

// Logger appends timestamped entries to a bounded FIFO buffer, emits each one
// through structured logging, and forwards it asynchronously to the sink.
// The buffer answers recent-activity queries without touching the database.
type Logger struct {
	mu      sync.Mutex
	entries []*models.ActivityEntry
	cap     int

	logger *slog.Logger
	sink   Sink
	queue  chan *models.ActivityEntry
	done   chan struct{}
	now    func() time.Time
}

// NewLogger creates an activity logger. sink may be nil, in which case
// entries live only in the buffer.
func NewLogger(logger *slog.Logger, sink Sink) *Logger {
	l := &Logger{
		cap:    MaxEntries,
		logger: logger,
		sink:   sink,
		queue:  make(chan *models.ActivityEntry, 256),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	go l.persistLoop()
	return l
}

// Log records an activity event. The returned entry is the one appended;
// after the append the buffer never holds more than MaxEntries.
func (l *Logger) Log(userID, action, details, ipAddress, userAgent, sessionID string) *models.ActivityEntry {
	entry := &models.ActivityEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Action:    action,
		Details:   details,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		SessionID: sessionID,
		Timestamp: l.now(),
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.cap {
		overflow := len(l.entries) - l.cap
		l.entries = append(l.entries[:0], l.entries[overflow:]...)
	}
	l.mu.Unlock()

	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "activity",
		slog.String("user_id", userID),
		slog.String("action", action),
		slog.String("details", details),
		slog.String("ip_address", ipAddress),
		slog.String("session_id", sessionID),
		slog.Time("timestamp", entry.Timestamp))

	if l.sink != nil {
		select {
		case l.queue <- entry:
		default:
			l.logger.Warn("activity persist queue full, dropping entry",
				slog.String("action", action))
		}
	}

	return entry
}

// Recent returns up to limit entries, newest first.
func (l *Logger) Recent(limit int) []*models.ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]*models.ActivityEntry, 0, limit)
	for i := len(l.entries) - 1; i >= len(l.entries)-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// ForUser returns the user's buffered entries, newest first.
func (l *Logger) ForUser(userID string) []*models.ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*models.ActivityEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].UserID == userID {
			out = append(out, l.entries[i])
		}
	}
	return out
}

// DropUser removes the user's entries from the buffer. Used by the privacy
// erase flow; the sink's rows are deleted separately.
func (l *Logger) DropUser(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	dropped := 0
	for _, e := range l.entries {
		if e.UserID == userID {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return dropped
}

// Len returns the number of buffered entries.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close stops the persist worker after draining queued entries.
func (l *Logger) Close() {
	close(l.queue)
	<-l.done
}

func (l *Logger) persistLoop() {
	defer close(l.done)
	for entry := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.sink.Persist(ctx, entry); err != nil {
			l.logger.Error("failed to persist activity entry",
				slog.String("action", entry.Action), slog.Any("error", err))
		}
		cancel()
	}
}
