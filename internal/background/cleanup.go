// Package background runs the periodic maintenance loop: sweeping expired
// in-memory state and enforcing database retention.
package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/tradepost/sentinel/internal/guard"
	"github.com/tradepost/sentinel/internal/ratelimit"
	"github.com/tradepost/sentinel/internal/session"
)

// RetentionStore handles the durable side of cleanup.
type RetentionStore interface {
	DeleteExpiredAttempts(ctx context.Context) (int64, error)
	DeleteActivityOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CodeSweeper drops expired one-time codes.
type CodeSweeper interface {
	SweepExpired() int
}

// CleanupManager periodically sweeps the limiters, guards, sessions, and
// one-time codes, and trims aged audit rows. All in-memory stores also expire
// entries lazily on read; the sweep only bounds memory between reads.
type CleanupManager struct {
	limiters  []*ratelimit.Limiter
	guards    []*guard.Guard
	sessions  *session.Store
	codes     CodeSweeper
	retention RetentionStore
	keepFor   time.Duration
	logger    *slog.Logger
	interval  time.Duration
	stopCh    chan struct{}
}

// NewCleanupManager creates a new cleanup manager. retention may be nil when
// running without a database.
func NewCleanupManager(
	limiters []*ratelimit.Limiter,
	guards []*guard.Guard,
	sessions *session.Store,
	codes CodeSweeper,
	retention RetentionStore,
	keepFor time.Duration,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		limiters:  limiters,
		guards:    guards,
		sessions:  sessions,
		codes:     codes,
		retention: retention,
		keepFor:   keepFor,
		logger:    logger,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var limiterEvicted, guardEvicted int
	for _, l := range cm.limiters {
		limiterEvicted += l.Sweep()
	}
	for _, g := range cm.guards {
		guardEvicted += g.Sweep()
	}

	sessionsSwept, err := cm.sessions.SweepExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to sweep sessions", slog.Any("error", err))
	}

	codesSwept := 0
	if cm.codes != nil {
		codesSwept = cm.codes.SweepExpired()
	}

	var attemptsDeleted, activityDeleted int64
	if cm.retention != nil {
		if attemptsDeleted, err = cm.retention.DeleteExpiredAttempts(cleanupCtx); err != nil {
			cm.logger.Error("failed to trim login attempts", slog.Any("error", err))
		}
		cutoff := time.Now().Add(-cm.keepFor)
		if activityDeleted, err = cm.retention.DeleteActivityOlderThan(cleanupCtx, cutoff); err != nil {
			cm.logger.Error("failed to trim activity log", slog.Any("error", err))
		}
	}

	if limiterEvicted+guardEvicted+sessionsSwept+codesSwept > 0 || attemptsDeleted+activityDeleted > 0 {
		cm.logger.Info("cleanup pass completed",
			slog.Int("limiter_identifiers", limiterEvicted),
			slog.Int("guard_identifiers", guardEvicted),
			slog.Int("sessions", sessionsSwept),
			slog.Int("otp_codes", codesSwept),
			slog.Int64("attempt_rows", attemptsDeleted),
			slog.Int64("activity_rows", activityDeleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
