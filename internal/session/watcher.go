package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tradepost/sentinel/internal/models"
)

// WatcherConfig holds inactivity detection settings.
type WatcherConfig struct {
	IdleTimeout   time.Duration // inactivity span after which a session is flagged
	GracePeriod   time.Duration // delay between flagging and force-clear
	CheckInterval time.Duration // how often the watcher scans
}

// DefaultWatcherConfig mirrors the session TTL: a session idle for the full
// lifetime is treated as abandoned.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		IdleTimeout:   DefaultTTL,
		GracePeriod:   30 * time.Second,
		CheckInterval: time.Minute,
	}
}

// Watcher implements the rolling inactivity timer: any authenticated request
// resets a session's LastActivity (via Store.Get), and sessions that stay
// idle past IdleTimeout are flagged, announced through OnExpire, and
// force-cleared after GracePeriod if nothing reacted sooner.
type Watcher struct {
	store    *Store
	config   WatcherConfig
	logger   *slog.Logger
	onExpire func(*models.Session)

	mu      sync.Mutex
	flagged map[string]time.Time
	now     func() time.Time
}

// NewWatcher creates an inactivity watcher. onExpire may be nil.
func NewWatcher(store *Store, config WatcherConfig, logger *slog.Logger, onExpire func(*models.Session)) *Watcher {
	return &Watcher{
		store:    store,
		config:   config,
		logger:   logger,
		onExpire: onExpire,
		flagged:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Run scans until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.scan(ctx)
		case <-ctx.Done():
			w.logger.Info("session watcher stopped")
			return
		}
	}
}

// scan flags idle sessions and clears those flagged longer than the grace
// period. A session that saw activity since being flagged is unflagged.
func (w *Watcher) scan(ctx context.Context) {
	now := w.now()

	type idle struct {
		sess *models.Session
	}
	var idleSessions []idle

	err := w.store.backend.Range(ctx, func(s *models.Session) bool {
		if s.IdleSince(now) >= w.config.IdleTimeout || s.Expired(now) {
			idleSessions = append(idleSessions, idle{sess: s})
		}
		return true
	})
	if err != nil {
		w.logger.Error("session watcher scan failed", slog.Any("error", err))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(idleSessions))
	for _, it := range idleSessions {
		id := it.sess.SessionID
		seen[id] = true

		flaggedAt, already := w.flagged[id]
		if !already {
			w.flagged[id] = now
			w.logger.Info("session idle, expiry pending",
				slog.String("session_id", id),
				slog.Duration("idle", it.sess.IdleSince(now)))
			if w.onExpire != nil {
				w.onExpire(it.sess)
			}
			continue
		}

		if now.Sub(flaggedAt) >= w.config.GracePeriod {
			if err := w.store.Clear(ctx, id); err != nil {
				w.logger.Error("failed to clear idle session",
					slog.String("session_id", id), slog.Any("error", err))
				continue
			}
			delete(w.flagged, id)
		}
	}

	// Sessions that became active again (or were cleared elsewhere) drop off
	// the flagged list.
	for id := range w.flagged {
		if !seen[id] {
			delete(w.flagged, id)
		}
	}
}
