package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryDenyList implements DenyList using ttlcache; entries disappear on
// their own once the revoked token's lifetime is over.
type MemoryDenyList struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewMemoryDenyList creates an in-memory denylist with automatic expiry.
func NewMemoryDenyList() *MemoryDenyList {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()

	return &MemoryDenyList{cache: cache}
}

// Revoke implements DenyList.Revoke. Revoking an already-expired token is a
// no-op.
func (d *MemoryDenyList) Revoke(_ context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	d.cache.Set(tokenID, struct{}{}, ttl)
	return nil
}

// IsRevoked implements DenyList.IsRevoked.
func (d *MemoryDenyList) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	return d.cache.Get(tokenID) != nil, nil
}

// Close stops the cleanup goroutine.
func (d *MemoryDenyList) Close() error {
	d.cache.Stop()
	return nil
}
