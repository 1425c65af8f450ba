package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tradepost/sentinel/internal/models"
)

const sessionKeyPrefix = "sentinel:session:"

// RedisBackend stores sessions as hashes with a server-side TTL. The TTL is a
// safety net for abandoned records; the Store still enforces ExpiresAt on
// read so both backends expose identical lazy-expiry behavior.
type RedisBackend struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisBackend creates a Redis-backed session backend. Records are given
// twice the session ttl so an expired session is still observable (and
// deletable) by the lazy read path before Redis reaps it.
func NewRedisBackend(rdb redis.UniversalClient, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBackend{rdb: rdb, ttl: ttl}
}

func (b *RedisBackend) key(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func (b *RedisBackend) Put(ctx context.Context, s *models.Session) error {
	pipe := b.rdb.Pipeline()
	pipe.HSet(ctx, b.key(s.SessionID), s)
	pipe.Expire(ctx, b.key(s.SessionID), 2*b.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) Fetch(ctx context.Context, sessionID string) (*models.Session, error) {
	cmd := b.rdb.HGetAll(ctx, b.key(sessionID))
	if err := cmd.Err(); err != nil {
		return nil, err
	}
	if len(cmd.Val()) == 0 {
		return nil, models.ErrNotFound
	}
	var s models.Session
	if err := cmd.Scan(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *RedisBackend) Delete(ctx context.Context, sessionID string) error {
	deleted, err := b.rdb.Del(ctx, b.key(sessionID)).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (b *RedisBackend) ByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	var out []*models.Session
	err := b.Range(ctx, func(s *models.Session) bool {
		if s.UserID == userID {
			out = append(out, s)
		}
		return true
	})
	return out, err
}

func (b *RedisBackend) Range(ctx context.Context, fn func(*models.Session) bool) error {
	iter := b.rdb.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		cmd := b.rdb.HGetAll(ctx, iter.Val())
		if err := cmd.Err(); err != nil {
			return err
		}
		if len(cmd.Val()) == 0 {
			continue // reaped between SCAN and HGETALL
		}
		var s models.Session
		if err := cmd.Scan(&s); err != nil {
			return err
		}
		if !fn(&s) {
			return nil
		}
	}
	if err := iter.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
