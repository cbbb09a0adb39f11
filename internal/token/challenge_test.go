package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeRoundTrip(t *testing.T) {
	h := NewHasher("challenge-secret")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	value := h.SignChallenge("acct-1", now.Add(10*time.Minute))

	id, err := h.OpenChallenge(value, now)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id)

	_, err = h.OpenChallenge(value, now.Add(10*time.Minute))
	assert.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestChallengeRejectsTampering(t *testing.T) {
	h := NewHasher("challenge-secret")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	value := h.SignChallenge("acct-1", now.Add(time.Minute))

	forged := "acct-2" + value[len("acct-1"):]
	_, err := h.OpenChallenge(forged, now)
	assert.ErrorIs(t, err, ErrInvalidChallenge)

	_, err = NewHasher("other-secret").OpenChallenge(value, now)
	assert.ErrorIs(t, err, ErrInvalidChallenge)

	for _, bad := range []string{"", ".", "acct-1", "acct-1.notanumber.abc"} {
		_, err = h.OpenChallenge(bad, now)
		assert.ErrorIs(t, err, ErrInvalidChallenge, bad)
	}
}
