package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	h := NewPasswordHasher(4) // minimum cost keeps the test fast

	hash, err := h.Hash("Correct-Horse-Battery-7")
	require.NoError(t, err)
	assert.NotContains(t, hash, "Correct-Horse")

	assert.True(t, h.Verify("Correct-Horse-Battery-7", hash))
	assert.False(t, h.Verify("correct-horse-battery-7", hash))
	assert.False(t, h.Verify("", hash))
}

func TestPasswordsBeyondBcryptLimitStayDistinct(t *testing.T) {
	// Raw bcrypt truncates at 72 bytes, which would make these collide.
	// The SHA-256 pre-hash must keep them apart.
	h := NewPasswordHasher(4)
	base := strings.Repeat("a", 72)

	hash, err := h.Hash(base + "-suffix-one")
	require.NoError(t, err)
	assert.True(t, h.Verify(base+"-suffix-one", hash))
	assert.False(t, h.Verify(base+"-suffix-two", hash))
}

func TestCheckPasswordStrengthReportsEveryFailure(t *testing.T) {
	reasons := CheckPasswordStrength("short")
	assert.Len(t, reasons, 4) // length, uppercase, digit, special

	reasons = CheckPasswordStrength("alllowercaseandlong")
	assert.Len(t, reasons, 3)

	assert.Nil(t, CheckPasswordStrength("Str0ng-enough-Pass!"))
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("Str0ng-enough-Pass!"))

	err := ValidatePassword("weak")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "12 characters")
}
