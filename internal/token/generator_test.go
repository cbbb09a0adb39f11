package token

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionTokenEntropy(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		tok, err := NewSessionToken()
		require.NoError(t, err)
		require.Len(t, tok, 2*SecretBytes)
		_, dup := seen[tok]
		require.False(t, dup, "duplicate token generated")
		seen[tok] = struct{}{}
	}
}

func TestNewNumericCodeRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code, err := NewNumericCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestNewNumericCodeRejectsBadDigits(t *testing.T) {
	_, err := NewNumericCode(0)
	assert.ErrorIs(t, err, ErrInvalidDigits)
	_, err = NewNumericCode(19)
	assert.ErrorIs(t, err, ErrInvalidDigits)
}

func TestHasherDigestSeparatesPurposes(t *testing.T) {
	h := NewHasher("test-secret")
	assert.Equal(t, h.SessionDigest("abc"), h.SessionDigest("abc"))
	assert.NotEqual(t, h.SessionDigest("abc"), h.ResetDigest("abc"))
	assert.NotEqual(t, h.CodeDigest("acct-1", "123456"), h.CodeDigest("acct-2", "123456"))
	assert.NotEqual(t, NewHasher("other").SessionDigest("abc"), h.SessionDigest("abc"))
}
