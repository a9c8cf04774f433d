package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/ventro/backend/internal/core"
)

const DefaultBcryptCost = 12

// PasswordHasher wraps bcrypt with a SHA-256 pre-hash so passwords longer
// than bcrypt's 72-byte input limit still contribute all their entropy.
type PasswordHasher struct {
	cost int
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	// base64 keeps the input free of NUL bytes, which bcrypt truncates on.
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword(h.prehash(password), h.cost)
	if err != nil {
		return "", core.Wrap(core.KindFatal, "hashing password", err)
	}
	return string(hashed), nil
}

// Verify reports whether password matches hash. The comparison is
// constant-time within bcrypt.
func (h *PasswordHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), h.prehash(password)) == nil
}

const minPasswordLength = 12

// CheckPasswordStrength returns every reason the candidate fails policy,
// or nil when it passes.
func CheckPasswordStrength(password string) []string {
	var reasons []string
	if len(password) < minPasswordLength {
		reasons = append(reasons, "password must be at least 12 characters")
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper {
		reasons = append(reasons, "password must contain an uppercase letter")
	}
	if !lower {
		reasons = append(reasons, "password must contain a lowercase letter")
	}
	if !digit {
		reasons = append(reasons, "password must contain a digit")
	}
	if !special {
		reasons = append(reasons, "password must contain a special character")
	}
	return reasons
}

// ValidatePassword is the single entry point for registration and
// password-change flows.
func ValidatePassword(password string) error {
	if reasons := CheckPasswordStrength(password); len(reasons) > 0 {
		return core.E(core.KindValidation, strings.Join(reasons, "; "))
	}
	return nil
}
