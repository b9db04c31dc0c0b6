package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/smartpymes/restaurante/internal/models"
)

const (
	// RedisSessionKeyPrefix namespaces session keys.
	RedisSessionKeyPrefix = "restaurante:session:"
	// DefaultRedisTimeout bounds every Redis round trip.
	DefaultRedisTimeout = 3 * time.Second
)

// RedisSessionStore keeps sessions in Redis. Idle expiry is delegated to key TTLs,
// so DeleteSessionsIdleSince has nothing to sweep.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ SessionRepo = (*RedisSessionStore)(nil)

// NewRedisSessionStore wraps client. A zero ttl stores sessions without expiry.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

// Ping checks connectivity.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultRedisTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisSessionStore) GetSession(contact string) (*models.SessionRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultRedisTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, RedisSessionKeyPrefix+contact).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisSessionStore GetSession failed", "error", err, "contact", contact)
		return nil, fmt.Errorf("failed to get session for %s: %w", contact, err)
	}
	var rec models.SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedSession, contact, err)
	}
	return &rec, nil
}

func (s *RedisSessionStore) SaveSession(rec models.SessionRecord) error {
	if rec.Contact == "" {
		return fmt.Errorf("session contact cannot be empty")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session for %s: %w", rec.Contact, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRedisTimeout)
	defer cancel()
	if err := s.client.Set(ctx, RedisSessionKeyPrefix+rec.Contact, data, s.ttl).Err(); err != nil {
		slog.Error("RedisSessionStore SaveSession failed", "error", err, "contact", rec.Contact)
		return fmt.Errorf("failed to save session for %s: %w", rec.Contact, err)
	}
	slog.Debug("RedisSessionStore SaveSession succeeded", "contact", rec.Contact, "step", rec.Step, "ttl", s.ttl)
	return nil
}

func (s *RedisSessionStore) DeleteSession(contact string) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultRedisTimeout)
	defer cancel()
	if err := s.client.Del(ctx, RedisSessionKeyPrefix+contact).Err(); err != nil {
		return fmt.Errorf("failed to delete session for %s: %w", contact, err)
	}
	return nil
}

func (s *RedisSessionStore) DeleteSessionsIdleSince(time.Time) (int64, error) {
	return 0, nil
}
