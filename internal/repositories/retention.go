package repositories

import (
	"context"
	"time"
)

// Retention bundles the row-expiry operations the background cleanup runs.
type Retention struct {
	attempts *AttemptRepository
	activity *ActivityRepository
}

// NewRetention creates a Retention over the audit repositories.
func NewRetention(attempts *AttemptRepository, activity *ActivityRepository) *Retention {
	return &Retention{attempts: attempts, activity: activity}
}

func (r *Retention) DeleteExpiredAttempts(ctx context.Context) (int64, error) {
	return r.attempts.DeleteExpired(ctx)
}

func (r *Retention) DeleteActivityOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.activity.DeleteOlderThan(ctx, cutoff)
}
