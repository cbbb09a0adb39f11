package token

import (
	"crypto/hmac"
	"errors"
	"strconv"
	"strings"
	"time"
)

const PurposeChallenge = "two-factor-challenge"

var ErrInvalidChallenge = errors.New("invalid or expired challenge")

// SignChallenge binds a pending two-factor login to an account until expires.
// The value carries no secret and is safe to hand to the client.
func (h *Hasher) SignChallenge(accountID string, expires time.Time) string {
	payload := accountID + "." + strconv.FormatInt(expires.Unix(), 10)
	return payload + "." + h.Digest(PurposeChallenge, payload)
}

// OpenChallenge returns the account of a challenge signed by this hasher that
// has not expired at now.
func (h *Hasher) OpenChallenge(value string, now time.Time) (string, error) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 {
		return "", ErrInvalidChallenge
	}
	payload, mac := value[:i], value[i+1:]
	if !hmac.Equal([]byte(mac), []byte(h.Digest(PurposeChallenge, payload))) {
		return "", ErrInvalidChallenge
	}

	j := strings.LastIndexByte(payload, '.')
	if j <= 0 {
		return "", ErrInvalidChallenge
	}
	unix, err := strconv.ParseInt(payload[j+1:], 10, 64)
	if err != nil || !now.Before(time.Unix(unix, 0)) {
		return "", ErrInvalidChallenge
	}
	return payload[:j], nil
}
