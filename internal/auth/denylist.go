package auth

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	denylistKey      = "ventro:auth:token_denylist"
	userRevokedKeyFm = "ventro:auth:user_revoked_at:"
	// Prune the expired tail roughly once per pruneEvery checks instead of
	// on every request.
	pruneEvery = 64
)

// Denylist tracks revoked token ids and user-level revocation timestamps
// in Redis. Lookups fail open: when Redis is down a valid signature is
// honored rather than locking every user out.
type Denylist struct {
	rdb    redis.Cmdable
	checks atomic.Uint64
}

func NewDenylist(rdb redis.Cmdable) *Denylist {
	return &Denylist{rdb: rdb}
}

// Deny records a token id until its natural expiry. Members past expiry
// are pruned lazily during checks.
func (d *Denylist) Deny(ctx context.Context, jti string, expiresAt time.Time) error {
	return d.rdb.ZAdd(ctx, denylistKey, redis.Z{
		Score:  float64(expiresAt.Unix()),
		Member: jti,
	}).Err()
}

// IsDenied reports whether jti has been revoked.
func (d *Denylist) IsDenied(ctx context.Context, jti string) bool {
	if d.checks.Add(1)%pruneEvery == 0 {
		now := strconv.FormatInt(time.Now().Unix(), 10)
		if err := d.rdb.ZRemRangeByScore(ctx, denylistKey, "-inf", now).Err(); err != nil {
			slog.Warn("denylist prune failed", "error", err)
		}
	}
	err := d.rdb.ZScore(ctx, denylistKey, jti).Err()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		slog.Warn("denylist lookup failed, failing open", "error", err)
		return false
	}
	return true
}

// RevokeUser invalidates every token of the user issued before now.
// The marker outlives the longest refresh TTL and then expires.
func (d *Denylist) RevokeUser(ctx context.Context, userID string, maxTokenTTL time.Duration) error {
	key := userRevokedKeyFm + userID
	now := strconv.FormatInt(time.Now().Unix(), 10)
	return d.rdb.Set(ctx, key, now, maxTokenTTL).Err()
}

// IsUserRevoked reports whether the user was revoked at or after the
// token's issue time.
func (d *Denylist) IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) bool {
	val, err := d.rdb.Get(ctx, userRevokedKeyFm+userID).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		slog.Warn("user revocation lookup failed, failing open", "error", err)
		return false
	}
	revokedAt, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false
	}
	return !issuedAt.After(time.Unix(revokedAt, 0))
}
