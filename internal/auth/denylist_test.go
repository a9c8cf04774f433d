package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func denylistFixture(t *testing.T) (*Denylist, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewDenylist(rdb), mr
}

func TestDenylistDenyAndCheck(t *testing.T) {
	d, _ := denylistFixture(t)
	ctx := context.Background()

	assert.False(t, d.IsDenied(ctx, "jti-1"))

	require.NoError(t, d.Deny(ctx, "jti-1", time.Now().Add(time.Hour)))
	assert.True(t, d.IsDenied(ctx, "jti-1"))
	assert.False(t, d.IsDenied(ctx, "jti-2"))
}

func TestDenylistFailsOpenWhenRedisDown(t *testing.T) {
	d, mr := denylistFixture(t)
	ctx := context.Background()

	require.NoError(t, d.Deny(ctx, "jti-1", time.Now().Add(time.Hour)))
	mr.Close()

	// With Redis unreachable a valid signature is honored rather than
	// locking every user out.
	assert.False(t, d.IsDenied(ctx, "jti-1"))
}

func TestUserRevocationCutoff(t *testing.T) {
	d, _ := denylistFixture(t)
	ctx := context.Background()

	require.NoError(t, d.RevokeUser(ctx, "user-1", time.Hour))

	// Tokens issued before the revocation are dead, later ones are fine.
	assert.True(t, d.IsUserRevoked(ctx, "user-1", time.Now().Add(-time.Minute)))
	assert.False(t, d.IsUserRevoked(ctx, "user-1", time.Now().Add(time.Minute)))
	assert.False(t, d.IsUserRevoked(ctx, "user-2", time.Now().Add(-time.Minute)))
}
