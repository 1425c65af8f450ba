package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tradepost/sentinel/internal/database"
	"github.com/tradepost/sentinel/internal/models"
)

// ActivityRepository is the durable sink behind the in-memory activity log.
type ActivityRepository struct {
	db *database.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *database.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Persist inserts an activity entry. Satisfies activity.Sink.
func (r *ActivityRepository) Persist(ctx context.Context, entry *models.ActivityEntry) error {
	query := `
		INSERT INTO activity_log (id, user_id, action, details, ip_address, user_agent, session_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID, entry.UserID, entry.Action, entry.Details,
		entry.IPAddress, entry.UserAgent, entry.SessionID, entry.Timestamp,
	)
	return database.MapPostgresError(err)
}

func scanActivityRows(rows pgx.Rows) ([]*models.ActivityEntry, error) {
	defer rows.Close()

	entries := make([]*models.ActivityEntry, 0)
	for rows.Next() {
		var e models.ActivityEntry
		err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Details,
			&e.IPAddress, &e.UserAgent, &e.SessionID, &e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}
	return entries, nil
}

// GetByUserID returns a user's entries, newest first.
func (r *ActivityRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.ActivityEntry, error) {
	query := `
		SELECT id, user_id, action, details, ip_address, user_agent, session_id, timestamp
		FROM activity_log
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return scanActivityRows(rows)
}

// DeleteByUserID removes every entry for a user. Part of the privacy erase.
func (r *ActivityRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	query := `DELETE FROM activity_log WHERE user_id = $1`
	tag, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOlderThan enforces the retention policy.
func (r *ActivityRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM activity_log WHERE timestamp < $1`
	tag, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
