// Package token produces the unguessable secrets of the auth flows and the
// keyed digests under which stores persist them.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// SecretBytes is the entropy of session and reset tokens (256 bits).
const SecretBytes = 32

var ErrInvalidDigits = errors.New("code digits must be between 1 and 18")

// NewSessionToken returns 64 hex characters of crypto/rand output.
func NewSessionToken() (string, error) {
	return randomHex(SecretBytes)
}

func NewResetToken() (string, error) {
	return randomHex(SecretBytes)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewNumericCode returns a code drawn uniformly from [10^(digits-1), 10^digits),
// so a 6-digit code is always in 100000..999999.
func NewNumericCode(digits int) (string, error) {
	if digits < 1 || digits > 18 {
		return "", ErrInvalidDigits
	}
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits-1)), nil)
	high := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	span := new(big.Int).Sub(high, low)

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("failed to draw code: %w", err)
	}
	return n.Add(n, low).String(), nil
}

// Hasher computes HMAC-SHA256 digests of tokens and codes.
type Hasher struct {
	secret []byte
}

func NewHasher(secret string) *Hasher {
	return &Hasher{secret: []byte(secret)}
}

// Digest is deterministic so it can serve as an exact-match lookup key.
// purpose separates the digest spaces of sessions, resets and codes.
func (h *Hasher) Digest(purpose, value string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

const (
	PurposeSession   = "session"
	PurposeReset     = "reset"
	PurposeTwoFactor = "two-factor"
)

func (h *Hasher) SessionDigest(token string) string { return h.Digest(PurposeSession, token) }

func (h *Hasher) ResetDigest(token string) string { return h.Digest(PurposeReset, token) }

// CodeDigest binds the code to its account so equal codes of different
// accounts never collide.
func (h *Hasher) CodeDigest(accountID, code string) string {
	return h.Digest(PurposeTwoFactor, accountID+":"+code)
}
