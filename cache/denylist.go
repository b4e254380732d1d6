// Package cache holds the issuer-side access-token denylist. Access tokens
// are validated purely by signature and expiry and are never persisted; the
// denylist is the one exception, covering tokens revoked at logout for the
// remainder of their lifetime.
package cache

import (
	"context"
	"time"
)

// DenyList records revoked token ids until the moment the token would have
// expired anyway, after which the entry is dropped automatically.
type DenyList interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Close() error
}
