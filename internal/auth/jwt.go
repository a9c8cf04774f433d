package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ventro/backend/internal/core"
)

// Claims carried by every access token. Refresh tokens are opaque random
// strings and never JWTs.
type Claims struct {
	OrgID string `json:"org_id"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 access tokens and opaque
// refresh tokens.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenManager(secret []byte, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (m *TokenManager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }

// IssueAccess mints a signed access token. Every token gets a fresh jti
// so individual tokens can be denylisted on logout.
func (m *TokenManager) IssueAccess(user *core.User) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		OrgID: user.OrgID,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, core.Wrap(core.KindFatal, "signing access token", err)
	}
	return signed, claims, nil
}

// VerifyAccess parses and validates the signature and expiry. Denylist and
// user-level revocation checks live in Denylist; middleware composes both.
func (m *TokenManager) VerifyAccess(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, core.Errorf(core.KindAuth, "unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, core.Wrap(core.KindAuth, "invalid access token", err)
	}
	return claims, nil
}

// NewRefreshToken returns (plaintext, storedHash). Only the SHA-256 hex of
// the token is persisted; a database leak cannot replay sessions.
func NewRefreshToken() (string, string, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return "", "", core.Wrap(core.KindFatal, "generating refresh token", err)
	}
	token := hex.EncodeToString(buf)
	return token, HashRefreshToken(token), nil
}

func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
