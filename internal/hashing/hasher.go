package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"admin-auth/internal/config"
	"admin-auth/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	ErrPasswordTooWeak     = errors.New("password must be between 10 and 256 bytes")
)

const (
	MinPasswordBytes = 10
	MaxPasswordBytes = 256
	algorithmID      = "argon2id"
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes admin passwords with Argon2id and an optional server-side
// pepper. Encoded hashes use the PHC string format so parameters travel
// with each hash.
type Hasher struct {
	params Argon2Params
	pepper string

	dummyOnce sync.Once
	dummyHash string
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}
	if params.Memory < 8*1024 {
		params.Memory = 8 * 1024
	}
	if params.Iterations < 1 {
		params.Iterations = 1
	}
	if params.Parallelism < 1 {
		params.Parallelism = 1
	}

	return &Hasher{
		params: params,
		pepper: cfg.Hashing.Pepper,
	}
}

// ValidatePassword enforces the length policy for newly chosen passwords.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordBytes || len(password) > MaxPasswordBytes {
		return ErrPasswordTooWeak
	}
	return nil
}

func (h *Hasher) HashPassword(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(password+h.pepper),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword compares in constant time. Legacy bcrypt hashes from the
// previous back office are accepted so migrated operators can sign in.
func (h *Hasher) VerifyPassword(password, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
		}
		return true, nil
	}

	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password+h.pepper),
		parsed.salt,
		parsed.params.Iterations,
		parsed.params.Memory,
		parsed.params.Parallelism,
		uint32(len(parsed.hash)),
	)

	// Use constant time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsRehash reports hashes produced by bcrypt or with weaker parameters.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	parsed, err := parsePHC(encoded)
	if err != nil {
		return true
	}
	p := parsed.params
	return p.Memory < h.params.Memory || p.Iterations < h.params.Iterations || p.Parallelism != h.params.Parallelism
}

// DummyVerify spends the same work as a real verification. Login calls it for
// unknown or inactive accounts so response time does not reveal existence.
func (h *Hasher) DummyVerify(password string) {
	h.dummyOnce.Do(func() {
		hash, err := h.HashPassword("dummy-password-for-timing")
		if err != nil {
			util.Error("Failed to prepare dummy hash", zap.Error(err))
			return
		}
		h.dummyHash = hash
	})
	if h.dummyHash != "" {
		_, _ = h.VerifyPassword(password, h.dummyHash)
	}
}

// Benchmark hashing performance
func (h *Hasher) Benchmark(iterations int) time.Duration {
	start := time.Now()

	for i := 0; i < iterations; i++ {
		if _, err := h.HashPassword(fmt.Sprintf("benchmark-password-%d", i)); err != nil {
			util.Error("Benchmark failed", zap.Error(err))
			return 0
		}
	}

	return time.Since(start)
}

type parsedPHC struct {
	params Argon2Params
	salt   []byte
	hash   []byte
}

func parsePHC(encoded string) (*parsedPHC, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != algorithmID {
		return nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return nil, ErrIncompatibleVersion
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return nil, ErrInvalidHash
	}
	if memory == 0 || iterations == 0 || parallelism == 0 {
		return nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, ErrInvalidHash
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, ErrInvalidHash
	}

	return &parsedPHC{
		params: Argon2Params{
			Memory:      memory,
			Iterations:  iterations,
			Parallelism: parallelism,
			SaltLength:  uint32(len(salt)),
			KeyLength:   uint32(len(hash)),
		},
		salt: salt,
		hash: hash,
	}, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}
