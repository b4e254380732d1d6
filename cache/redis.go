package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDenyList implements DenyList using Redis, sharing revocations across
// issuer instances. Key TTLs track the revoked token's remaining lifetime.
type RedisDenyList struct {
	client *redis.Client
	prefix string
}

// NewRedisDenyList creates a Redis-backed denylist.
func NewRedisDenyList(client *redis.Client, prefix string) *RedisDenyList {
	return &RedisDenyList{client: client, prefix: prefix}
}

func (d *RedisDenyList) key(tokenID string) string {
	return fmt.Sprintf("%s:revoked:%s", d.prefix, tokenID)
}

// Revoke implements DenyList.Revoke.
func (d *RedisDenyList) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, d.key(tokenID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("recording revocation in redis: %w", err)
	}
	return nil
}

// IsRevoked implements DenyList.IsRevoked. Errors are surfaced rather than
// treated as "not revoked": the caller decides, and the issuer fails closed.
func (d *RedisDenyList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking revocation in redis: %w", err)
	}
	return n > 0, nil
}

// Close closes the underlying Redis client.
func (d *RedisDenyList) Close() error {
	return d.client.Close()
}
