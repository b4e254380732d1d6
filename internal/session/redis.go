package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.oidclab.dev/implicit/domain"
)

// RedisStore implements Store using Redis, so sessions survive issuer
// restarts and can be shared by multiple issuer instances. Redis key TTLs
// mirror each session's absolute lifetime.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, sessionID)
}

type redisSession struct {
	SubjectID       string    `json:"subject_id"`
	Username        string    `json:"username"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	AccessTokenID   string    `json:"access_token_id,omitempty"`
}

// StoreSession implements Store.StoreSession.
func (r *RedisStore) StoreSession(ctx context.Context, sess *domain.Session) error {
	payload, err := json.Marshal(redisSession{
		SubjectID:       sess.SubjectID,
		Username:        sess.Username,
		AuthenticatedAt: sess.AuthenticatedAt,
		ExpiresAt:       sess.ExpiresAt,
		AccessTokenID:   sess.AccessTokenID,
	})
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", sess.ID)
	}
	if err := r.client.Set(ctx, r.key(sess.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("storing session in redis: %w", err)
	}
	return nil
}

// GetSession implements Store.GetSession. Redis evicts expired keys itself,
// so a miss is reported as not found; the explicit expiry check covers the
// window between logical expiry and eviction.
func (r *RedisStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	payload, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session from redis: %w", err)
	}

	var stored redisSession
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}

	sess := &domain.Session{
		ID:              sessionID,
		SubjectID:       stored.SubjectID,
		Username:        stored.Username,
		AuthenticatedAt: stored.AuthenticatedAt,
		ExpiresAt:       stored.ExpiresAt,
		AccessTokenID:   stored.AccessTokenID,
	}
	if !sess.Active(time.Now()) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// UpdateSession implements Store.UpdateSession.
func (r *RedisStore) UpdateSession(ctx context.Context, sess *domain.Session) error {
	exists, err := r.client.Exists(ctx, r.key(sess.ID)).Result()
	if err != nil {
		return fmt.Errorf("checking session in redis: %w", err)
	}
	if exists == 0 {
		return ErrSessionNotFound
	}
	return r.StoreSession(ctx, sess)
}

// DeleteSession implements Store.DeleteSession.
func (r *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("deleting session from redis: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
