package hashing

import (
	"strings"
	"testing"

	"admin-auth/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testHasher(pepper string) *Hasher {
	cfg := &config.Config{}
	cfg.Hashing = config.HashingConfig{
		Argon2MemoryCost:  8 * 1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
		Pepper:            pepper,
	}
	return NewHasher(cfg)
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher("")
	encoded, err := h.HashPassword("correct horse battery")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$"))

	ok, err := h.VerifyPassword("correct horse battery", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPassword("wrong horse battery", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	h := testHasher("")
	a, err := h.HashPassword("same-password-1")
	require.NoError(t, err)
	b, err := h.HashPassword("same-password-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPepperIsRequiredToVerify(t *testing.T) {
	encoded, err := testHasher("pepper-one").HashPassword("operator-password")
	require.NoError(t, err)

	ok, err := testHasher("pepper-two").VerifyPassword("operator-password", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := testHasher("")
	for _, bad := range []string{"", "plain", "$argon2id$v=19$m=1$x$y", "$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA"} {
		_, err := h.VerifyPassword("whatever-password", bad)
		assert.Error(t, err, bad)
	}
	_, err := h.VerifyPassword("whatever-password", "$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2g")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestLegacyBcryptHashes(t *testing.T) {
	h := testHasher("")
	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := h.VerifyPassword("legacy-password", string(legacy))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPassword("not-the-password", string(legacy))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, h.NeedsRehash(string(legacy)))
}

func TestNeedsRehash(t *testing.T) {
	weak := testHasher("")
	encoded, err := weak.HashPassword("operator-password")
	require.NoError(t, err)
	assert.False(t, weak.NeedsRehash(encoded))

	cfg := &config.Config{}
	cfg.Hashing = config.HashingConfig{Argon2MemoryCost: 16 * 1024, Argon2TimeCost: 2, Argon2Parallelism: 1}
	assert.True(t, NewHasher(cfg).NeedsRehash(encoded))
}

func TestValidatePassword(t *testing.T) {
	assert.ErrorIs(t, ValidatePassword("short"), ErrPasswordTooWeak)
	assert.ErrorIs(t, ValidatePassword(strings.Repeat("x", MaxPasswordBytes+1)), ErrPasswordTooWeak)
	assert.NoError(t, ValidatePassword("long-enough-password"))
}

func TestDummyVerifyDoesNotPanic(t *testing.T) {
	h := testHasher("")
	h.DummyVerify("anything")
	h.DummyVerify("anything-else")
}
