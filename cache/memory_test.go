package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDenyList(t *testing.T) {
	deny := NewMemoryDenyList()
	t.Cleanup(func() { _ = deny.Close() })
	ctx := context.Background()

	revoked, err := deny.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, deny.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)))
	revoked, err = deny.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestMemoryDenyListEntryExpires(t *testing.T) {
	deny := NewMemoryDenyList()
	t.Cleanup(func() { _ = deny.Close() })
	ctx := context.Background()

	require.NoError(t, deny.Revoke(ctx, "jti-1", time.Now().Add(20*time.Millisecond)))

	time.Sleep(50 * time.Millisecond)
	revoked, err := deny.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked, "denylist entries lapse with the token's own expiry")
}

func TestMemoryDenyListIgnoresPastDeadline(t *testing.T) {
	deny := NewMemoryDenyList()
	t.Cleanup(func() { _ = deny.Close() })
	ctx := context.Background()

	require.NoError(t, deny.Revoke(ctx, "jti-1", time.Now().Add(-time.Second)))
	revoked, err := deny.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}
